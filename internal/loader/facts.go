// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/modkit/modkit/internal/execctx"
)

const (
	// FactsCacheFile is the cache file name under the "cachedir" option.
	FactsCacheFile = "grains.cache.yaml"

	defaultFactsCacheExpiration = 300 * time.Second
)

// FactsOptions tunes Facts.
type FactsOptions struct {
	// ForceRefresh ignores the cache and clears the registry before use.
	ForceRefresh bool
	Deps         Deps
	// Now overrides the clock used for cache expiry.
	Now func() time.Time
}

// Facts builds the grains registry and collects its facts: every "core.*"
// function first, then the rest in key order. Map results are merged (deep
// merged with "grains_deep_merge"); keys matching a "grains_blacklist"
// pattern are dropped; opts["grains"] entries override the result. With
// "grains_cache" set the result is cached as YAML under "cachedir".
func Facts(ctx context.Context, opts map[string]any, o FactsOptions, options ...Option) (map[string]any, error) {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	cachePath := ""
	if dir, _ := opts["cachedir"].(string); dir != "" {
		cachePath = filepath.Join(dir, FactsCacheFile)
	}
	useCache := truthy(opts["grains_cache"]) && cachePath != ""

	if useCache && !o.ForceRefresh && !truthy(opts["refresh_grains_cache"]) {
		if cached, ok := loadCachedFacts(cachePath, cacheExpiration(opts), now()); ok {
			return cached, nil
		}
	}
	if truthy(opts["skip_grains"]) {
		return map[string]any{}, nil
	}

	overrides, _ := execctx.DeepCopy(opts["grains"]).(map[string]any)
	loaderOpts := maps.Clone(opts)
	if loaderOpts == nil {
		loaderOpts = make(map[string]any)
	}
	loaderOpts["grains"] = map[string]any{}

	l, err := Grains(ctx, loaderOpts, o.Deps, options...)
	if err != nil {
		return nil, err
	}
	if o.ForceRefresh {
		l.Clear()
	}

	blacklist := stringList(opts["grains_blacklist"])
	deep := opts["grains_deep_merge"] == true
	facts := make(map[string]any)

	keys := l.Keys(ctx)
	var rest []string
	for _, key := range keys {
		if !strings.HasPrefix(key, "core.") {
			rest = append(rest, key)
			continue
		}
		collectFacts(ctx, l, key, facts, blacklist, deep)
	}
	// The remaining functions see core facts through __grains__.
	if d, ok := l.Store().Get(GrainsSlot); ok {
		if dict, ok := d.(*execctx.Dict); ok {
			dict.Update(execctx.DeepCopy(facts).(map[string]any))
		}
	}
	for _, key := range rest {
		collectFacts(ctx, l, key, facts, blacklist, deep)
	}

	maps.Copy(facts, overrides)

	if useCache {
		if err := writeCachedFacts(cachePath, facts); err != nil {
			l.logger.Error("unable to write facts cache", "path", cachePath, "error", err)
		}
	}
	return facts, nil
}

func collectFacts(ctx context.Context, l *Loader, key string, facts map[string]any, blacklist []string, deep bool) {
	f, ok := l.resolved(key)
	if !ok {
		return
	}
	out, err := f.Call(ctx)
	if err != nil {
		l.logger.Error("failed to load facts", "key", key, "error", err)
		return
	}
	got, ok := factsMap(out)
	if !ok {
		return
	}
	for name := range got {
		if matchesAny(blacklist, name) {
			l.logger.Debug("filtering fact", "key", key, "fact", name)
			delete(got, name)
		}
	}
	if len(got) == 0 {
		return
	}
	if deep {
		deepMerge(facts, got)
		return
	}
	maps.Copy(facts, got)
}

// factsMap accepts maps, dicts and YAML mapping documents.
func factsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case *execctx.Dict:
		return t.Snapshot(), true
	case string:
		var m map[string]any
		if err := yaml.Unmarshal([]byte(t), &m); err != nil || m == nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// deepMerge merges src into dst recursively for nested maps.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			dst[k] = sub
			continue
		}
		deepMerge(existing, sub)
	}
}

func cacheExpiration(opts map[string]any) time.Duration {
	switch t := opts["grains_cache_expiration"].(type) {
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	default:
		return defaultFactsCacheExpiration
	}
}

func loadCachedFacts(path string, expiry time.Duration, now time.Time) (map[string]any, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if now.Sub(fi.ModTime()) > expiry {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cached map[string]any
	if err := yaml.Unmarshal(data, &cached); err != nil || len(cached) == 0 {
		return nil, false
	}
	return cached, true
}

func writeCachedFacts(path string, facts map[string]any) error {
	data, err := yaml.Marshal(facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write facts cache: %w", err)
	}
	return nil
}
