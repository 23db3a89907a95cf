// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

var initSuffixes = []string{".bash", ".sh", PluginSuffix}

func TestImportPackageWithManifest(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "netpkg")
	writeScript(t, dir, "__init__.sh", `
__virtualname__=fromscript
ping() {
	echo pong
}
helper() {
	echo hidden
}
`)
	writeScript(t, dir, ManifestFile, `
virtualname = "net"
load        = ["ping"]
func_alias  = {
  ping = "check"
}
`)

	u, err := ImportPackage(t.Context(), "netpkg", dir, PackageOptions{
		Namespace:    "modkit.loaded.int.module.netpkg",
		InitSuffixes: initSuffixes,
	})
	if err != nil {
		t.Fatalf("ImportPackage() error: %v", err)
	}
	if u.Name() != "netpkg" || u.Path() != dir {
		t.Errorf("Name/Path = %q/%q", u.Name(), u.Path())
	}
	if v, _ := StringAttr(u, AttrVirtualName); v != "net" {
		t.Errorf("virtualname = %q, want manifest value", v)
	}
	if load, _ := ListAttr(u, AttrLoad); !slices.Equal(load, []string{"ping"}) {
		t.Errorf("load = %v", load)
	}
	if alias, _ := MapAttr(u, AttrFuncAlias); alias["ping"] != "check" {
		t.Errorf("func_alias = %v", alias)
	}
	if got := mustCall(t, t.Context(), u, "ping"); got != "pong" {
		t.Errorf("ping() = %q", got)
	}
}

func TestImportPackageWithoutManifest(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "plain")
	writeScript(t, dir, "__init__.bash", "__virtualname__=plainer\n")
	writeScript(t, dir, "__init__.sh", "__virtualname__=ignored\n")

	u, err := ImportPackage(t.Context(), "plain", dir, PackageOptions{InitSuffixes: initSuffixes})
	if err != nil {
		t.Fatalf("ImportPackage() error: %v", err)
	}
	if v, _ := StringAttr(u, AttrVirtualName); v != "plainer" {
		t.Errorf("virtualname = %q, want the .bash entry point", v)
	}
}

func TestImportPackageErrors(t *testing.T) {
	t.Parallel()

	t.Run("no entry point", func(t *testing.T) {
		t.Parallel()
		_, err := ImportPackage(t.Context(), "empty", t.TempDir(), PackageOptions{InitSuffixes: initSuffixes})
		if !errors.Is(err, ErrNoEntryPoint) {
			t.Errorf("error = %v, want ErrNoEntryPoint", err)
		}
	})

	t.Run("bad manifest", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeScript(t, dir, "__init__.sh", "true\n")
		writeScript(t, dir, ManifestFile, "virtualname = \n")
		if _, err := ImportPackage(t.Context(), "bad", dir, PackageOptions{InitSuffixes: initSuffixes}); err == nil {
			t.Error("ImportPackage() expected manifest error")
		}
	})
}

func TestPluginModuleShapes(t *testing.T) {
	t.Parallel()

	mod := NewModule("plug")
	ptr := mod

	tests := []struct {
		name    string
		symbol  any
		wantErr bool
	}{
		{name: "pointer", symbol: mod},
		{name: "pointer to pointer", symbol: &ptr},
		{name: "constructor", symbol: func() *Module { return mod }},
		{name: "wrong type", symbol: "nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := pluginModule(tt.symbol)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != mod {
			t.Errorf("%s: got another module", tt.name)
		}
	}
}
