// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/modkit/modkit/internal/cueutil"
	"github.com/modkit/modkit/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "modkit"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "modkit"
	// EnvPrefix prefixes environment overrides, e.g. MODKIT_LOG_LEVEL.
	EnvPrefix = "MODKIT"
)

// Extensions lists the accepted config file extensions in lookup order.
var Extensions = []string{"cue", "toml", "yaml", "yml"}

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the modkit configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on
// macOS and $XDG_CONFIG_HOME (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// DefaultCacheDir returns the user cache directory for modkit, falling back
// to the system temp dir when the platform has none.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

// loadWithOptions builds a fresh viper instance, applies defaults, the
// first config file found and MODKIT_* environment overrides.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check the file syntax for its format (" + strings.Join(Extensions, ", ") + ")").
				WithSuggestion("Verify the option names and value types").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("log_level must be one of debug, info, warn, error, fatal").
			WithSuggestion("optimization_order entries must be between 0 and 2").
			WithIssue(issue.ConfigInvalidId).
			Wrap(errs[0]).
			BuildError()
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("id", d.ID)
	v.SetDefault("log_level", d.LogLevel.String())
	v.SetDefault("cachedir", d.CacheDir)
	v.SetDefault("extension_modules", d.ExtensionModules)
	v.SetDefault("system_dir", d.SystemDir)
	v.SetDefault("module_dirs", []string{})
	v.SetDefault("whitelist_modules", []string{})
	v.SetDefault("disable_modules", []string{})
	v.SetDefault("optimization_order", d.OptimizationOrder)
	v.SetDefault("virtual_timer", d.VirtualTimer)
	v.SetDefault("grains_cache", d.Grains.Cache)
	v.SetDefault("grains_cache_expiration", d.Grains.CacheExpiration)
	v.SetDefault("skip_grains", d.Grains.Skip)
	v.SetDefault("grains_deep_merge", d.Grains.DeepMerge)
	v.SetDefault("grains_blacklist", []string{})
	v.SetDefault("disable_grains", []string{})
	v.SetDefault("proxy.proxytype", d.Proxy.Type)
}

// resolvePath returns the config file to load, or "" when none exists.
// An explicit ConfigFilePath must exist; otherwise the config directory
// and then the current directory are searched per Extensions.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{cfgDir, "."} {
		for _, ext := range Extensions {
			p := filepath.Join(dir, ConfigFileName+"."+ext)
			if fileExists(p) {
				return p, nil
			}
		}
	}
	return "", nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// mergeFile decodes path according to its extension and merges it over
// the defaults. Environment overrides still win.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	var m map[string]any
	switch ext := strings.TrimPrefix(filepath.Ext(path), "."); ext {
	case "cue":
		m, err = cueutil.DecodeMap(configSchema, "#Config", data, path)
	case "toml":
		err = toml.Unmarshal(data, &m)
		if err != nil {
			err = fmt.Errorf("%s: %w", path, err)
		}
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &m)
		if err != nil {
			err = fmt.Errorf("%s: %w", path, err)
		}
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// WriteDefault writes the default options as modkit.yaml into dir unless a
// config file of any accepted extension already exists there.
func WriteDefault(dir string) (string, error) {
	for _, ext := range Extensions {
		if p := filepath.Join(dir, ConfigFileName+"."+ext); fileExists(p) {
			return p, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig().Options())
	if err != nil {
		return "", fmt.Errorf("failed to encode defaults: %w", err)
	}
	p := filepath.Join(dir, ConfigFileName+".yaml")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return p, nil
}
