// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	// CacheDir is the search-directory subdirectory holding compiled units.
	CacheDir = "__cache__"
	// CompiledSuffix is the file suffix of compiled script units.
	CompiledSuffix = ".shc"
	// MaxOptLevel is the highest compile optimization level.
	MaxOptLevel = 2
)

// Compile reprints a script at the given optimization level: 0 keeps the
// layout, 1 minifies, 2 also simplifies the syntax tree.
func Compile(src []byte, name string, level int) ([]byte, error) {
	if level < 0 || level > MaxOptLevel {
		return nil, fmt.Errorf("optimization level %d out of range [0, %d]", level, MaxOptLevel)
	}
	file, err := syntax.NewParser().Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit: %w", err)
	}
	if level >= 2 {
		syntax.Simplify(file)
	}
	var printerOpts []syntax.PrinterOption
	if level >= 1 {
		printerOpts = append(printerOpts, syntax.Minify(true))
	}
	var buf bytes.Buffer
	if err := syntax.NewPrinter(printerOpts...).Print(&buf, file); err != nil {
		return nil, fmt.Errorf("failed to print unit: %w", err)
	}
	return buf.Bytes(), nil
}

// CompiledName returns the cache file name for a unit at level.
func CompiledName(name string, level int) string {
	if level == 0 {
		return name + CompiledSuffix
	}
	return fmt.Sprintf("%s.opt-%d%s", name, level, CompiledSuffix)
}

// CompileFile compiles the script at path into the __cache__ directory next
// to it and returns the written path.
func CompileFile(path string, level int) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read unit: %w", err)
	}
	out, err := Compile(src, path, level)
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cacheDir := filepath.Join(filepath.Dir(path), CacheDir)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}
	target := filepath.Join(cacheDir, CompiledName(name, level))
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return "", fmt.Errorf("write compiled unit: %w", err)
	}
	return target, nil
}
