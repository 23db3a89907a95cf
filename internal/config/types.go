// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// MaxOptimizationLevel is the highest compiled unit level.
	MaxOptimizationLevel = 2
	// DefaultGrainsCacheExpiration is the facts cache lifetime in seconds.
	DefaultGrainsCacheExpiration = 300
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidOptimizationLevel is returned for levels outside 0..MaxOptimizationLevel.
	ErrInvalidOptimizationLevel = errors.New("invalid optimization level")
	// ErrInvalidProvider is returned when a providers entry is empty or dotted.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is a charmbracelet/log level name.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidOptimizationLevelError wraps ErrInvalidOptimizationLevel.
	InvalidOptimizationLevelError struct {
		Value int
	}

	// InvalidProviderError wraps ErrInvalidProvider.
	InvalidProviderError struct {
		Module   string
		Provider string
	}

	// InvalidConfigError collects every field error of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the process options fed to every registry.
	Config struct {
		// ID names this process in facts and logs.
		ID string `json:"id" mapstructure:"id"`
		// LogLevel selects the registry logger level.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// CacheDir holds the facts cache and the default extension modules.
		CacheDir string `json:"cachedir" mapstructure:"cachedir"`
		// ExtensionModules is the root of the "<root>/<type>" search dirs.
		ExtensionModules string `json:"extension_modules" mapstructure:"extension_modules"`
		// SystemDir is the root of the shipped ("int") units.
		SystemDir string `json:"system_dir" mapstructure:"system_dir"`
		// ModuleDirs lists extra roots holding "<type>" or "_<type>" dirs.
		ModuleDirs []string `json:"module_dirs" mapstructure:"module_dirs"`
		// WhitelistModules restricts the execution modules that may load.
		WhitelistModules []string `json:"whitelist_modules" mapstructure:"whitelist_modules"`
		// DisableModules lists execution modules that are never loaded.
		DisableModules []string `json:"disable_modules" mapstructure:"disable_modules"`
		// Providers replaces a module's functions with another unit's.
		Providers map[string]string `json:"providers" mapstructure:"providers"`
		// OptimizationOrder ranks compiled unit levels, best first.
		OptimizationOrder []int `json:"optimization_order" mapstructure:"optimization_order"`
		// VirtualTimer logs how long each probe takes.
		VirtualTimer bool `json:"virtual_timer" mapstructure:"virtual_timer"`

		Grains GrainsConfig `mapstructure:",squash"`
		Proxy  ProxyConfig  `json:"proxy" mapstructure:"proxy"`

		// Pillar is the configuration data packed as __pillar__.
		Pillar map[string]any `json:"pillar" mapstructure:"pillar"`

		// Extra keeps every key this struct does not name, such as
		// "<type>_dirs" and "disable_<type>s".
		Extra map[string]any `json:"-" mapstructure:",remain"`
	}

	// GrainsConfig configures the facts loader.
	GrainsConfig struct {
		// Static facts applied over the collected ones.
		Static map[string]any `json:"grains" mapstructure:"grains"`
		// Cache enables the on-disk facts cache.
		Cache bool `json:"grains_cache" mapstructure:"grains_cache"`
		// CacheExpiration is the cache lifetime in seconds.
		CacheExpiration int `json:"grains_cache_expiration" mapstructure:"grains_cache_expiration"`
		// Skip disables facts collection entirely.
		Skip bool `json:"skip_grains" mapstructure:"skip_grains"`
		// DeepMerge merges nested fact maps instead of replacing them.
		DeepMerge bool `json:"grains_deep_merge" mapstructure:"grains_deep_merge"`
		// Blacklist holds glob patterns of fact names to drop.
		Blacklist []string `json:"grains_blacklist" mapstructure:"grains_blacklist"`
		// Disable lists facts units that are never loaded.
		Disable []string `json:"disable_grains" mapstructure:"disable_grains"`
	}

	// ProxyConfig configures restricted host mode.
	ProxyConfig struct {
		// Type is the proxytype units must list in __proxyenabled__.
		Type string `json:"proxytype" mapstructure:"proxytype"`
	}
)

// DefaultConfig returns the options used when no file sets them.
func DefaultConfig() *Config {
	cacheDir := DefaultCacheDir()
	return &Config{
		LogLevel:          LogLevel(log.InfoLevel.String()),
		CacheDir:          cacheDir,
		ExtensionModules:  filepath.Join(cacheDir, "extmods"),
		OptimizationOrder: []int{0, 1, 2},
		Grains: GrainsConfig{
			CacheExpiration: DefaultGrainsCacheExpiration,
		},
	}
}

// Options returns the option mapping passed to loader factories. The map
// is freshly allocated; unset lists and maps are left out.
func (c *Config) Options() map[string]any {
	opts := make(map[string]any, len(c.Extra)+16)
	maps.Copy(opts, c.Extra)

	setString := func(key, v string) {
		if v != "" {
			opts[key] = v
		}
	}
	setList := func(key string, v []string) {
		if len(v) > 0 {
			opts[key] = slices.Clone(v)
		}
	}

	setString("id", c.ID)
	setString("log_level", string(c.LogLevel))
	setString("cachedir", c.CacheDir)
	setString("extension_modules", c.ExtensionModules)
	setString("system_dir", c.SystemDir)
	setList("module_dirs", c.ModuleDirs)
	setList("whitelist_modules", c.WhitelistModules)
	setList("disable_modules", c.DisableModules)
	setList("disable_grains", c.Grains.Disable)
	setList("grains_blacklist", c.Grains.Blacklist)
	if len(c.OptimizationOrder) > 0 {
		opts["optimization_order"] = slices.Clone(c.OptimizationOrder)
	}
	if len(c.Providers) > 0 {
		providers := make(map[string]any, len(c.Providers))
		for mod, p := range c.Providers {
			providers[mod] = p
		}
		opts["providers"] = providers
	}

	opts["virtual_timer"] = c.VirtualTimer
	opts["grains_cache"] = c.Grains.Cache
	opts["grains_cache_expiration"] = c.Grains.CacheExpiration
	opts["skip_grains"] = c.Grains.Skip
	opts["grains_deep_merge"] = c.Grains.DeepMerge

	if c.Grains.Static != nil {
		opts["grains"] = maps.Clone(c.Grains.Static)
	}
	if c.Pillar != nil {
		opts["pillar"] = maps.Clone(c.Pillar)
	}
	if c.Proxy.Type != "" {
		opts["proxy"] = map[string]any{"proxytype": c.Proxy.Type}
	}
	return opts
}

// IsValid returns whether every field holds an accepted value.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	for _, lvl := range c.OptimizationOrder {
		if lvl < 0 || lvl > MaxOptimizationLevel {
			errs = append(errs, &InvalidOptimizationLevelError{Value: lvl})
		}
	}
	for _, mod := range slices.Sorted(maps.Keys(c.Providers)) {
		p := c.Providers[mod]
		if p == "" || strings.Contains(p, ".") || strings.Contains(mod, ".") {
			errs = append(errs, &InvalidProviderError{Module: mod, Provider: p})
		}
	}
	if c.Grains.CacheExpiration < 0 {
		errs = append(errs, fmt.Errorf("grains_cache_expiration must not be negative, got %d", c.Grains.CacheExpiration))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether l parses as a log level. The zero value is valid
// and means the default level.
func (l LogLevel) IsValid() (bool, []error) {
	if l == "" {
		return true, nil
	}
	if _, err := log.ParseLevel(string(l)); err != nil {
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error, fatal)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (e *InvalidOptimizationLevelError) Error() string {
	return fmt.Sprintf("optimization level %d out of range 0..%d", e.Value, MaxOptimizationLevel)
}

func (e *InvalidOptimizationLevelError) Unwrap() error { return ErrInvalidOptimizationLevel }

func (e *InvalidProviderError) Error() string {
	return fmt.Sprintf("provider %q for module %q must be a plain unit name", e.Provider, e.Module)
}

func (e *InvalidProviderError) Unwrap() error { return ErrInvalidProvider }
