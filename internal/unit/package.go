// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ManifestFile is the optional metadata file of a package directory.
const ManifestFile = "unit.hcl"

type (
	// manifest is the decoded form of unit.hcl. Every attribute is optional
	// and overrides the attribute of the same meaning set by the entry point.
	manifest struct {
		VirtualName    *string           `hcl:"virtualname,optional"`
		VirtualAliases []string          `hcl:"virtual_aliases,optional"`
		FuncAlias      map[string]string `hcl:"func_alias,optional"`
		Load           []string          `hcl:"load,optional"`
		All            []string          `hcl:"all,optional"`
		ProxyEnabled   []string          `hcl:"proxy_enabled,optional"`
		Outputter      map[string]string `hcl:"outputter,optional"`
	}

	// packageUnit is a package directory: its entry point unit plus the
	// manifest attributes.
	packageUnit struct {
		Unit
		dir   string
		attrs map[string]any
	}

	// PackageOptions configure a package directory import.
	PackageOptions struct {
		Namespace string
		// InitSuffixes lists acceptable __init__ suffixes in precedence order.
		InitSuffixes []string
		Env          []string
	}
)

// FindEntryPoint returns the __init__ file of dir for the first suffix in
// precedence order that exists.
func FindEntryPoint(dir string, suffixes []string) (string, bool) {
	for _, suffix := range suffixes {
		if suffix == "" {
			continue
		}
		p := filepath.Join(dir, InitName+suffix)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ImportPackage imports the package directory dir under name.
func ImportPackage(ctx context.Context, name, dir string, opts PackageOptions) (Unit, error) {
	entry, ok := FindEntryPoint(dir, opts.InitSuffixes)
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoEntryPoint)
	}

	var (
		inner Unit
		err   error
	)
	switch filepath.Ext(entry) {
	case PluginSuffix:
		inner, err = ImportPlugin(entry, opts.Namespace)
	default:
		inner, err = ImportShell(ctx, entry, ShellOptions{
			Name:      name,
			Namespace: opts.Namespace,
			Dir:       dir,
			Env:       opts.Env,
		})
	}
	if err != nil {
		return nil, err
	}

	attrs, err := loadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	return &packageUnit{Unit: inner, dir: dir, attrs: attrs}, nil
}

func loadManifest(path string) (map[string]any, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	var m manifest
	if diags := gohcl.DecodeBody(file.Body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, diags)
	}

	attrs := make(map[string]any)
	if m.VirtualName != nil {
		attrs[AttrVirtualName] = *m.VirtualName
	}
	if m.VirtualAliases != nil {
		attrs[AttrVirtualAliases] = m.VirtualAliases
	}
	if m.FuncAlias != nil {
		attrs[AttrFuncAlias] = m.FuncAlias
	}
	if m.Load != nil {
		attrs[AttrLoad] = m.Load
	}
	if m.All != nil {
		attrs[AttrAll] = m.All
	}
	if m.ProxyEnabled != nil {
		attrs[AttrProxyEnabled] = m.ProxyEnabled
	}
	if m.Outputter != nil {
		attrs[AttrOutputter] = m.Outputter
	}
	return attrs, nil
}

// Path returns the package directory.
func (p *packageUnit) Path() string {
	return p.dir
}

// Attr prefers manifest attributes over the entry point's own.
func (p *packageUnit) Attr(name string) (any, bool) {
	if v, ok := p.attrs[name]; ok {
		return v, true
	}
	return p.Unit.Attr(name)
}
