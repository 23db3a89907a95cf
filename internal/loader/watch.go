// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"time"

	"github.com/modkit/modkit/internal/watch"
)

// Watch clears l whenever a unit file in its search directories changes, so
// the next lookup sees a fresh index. It blocks until ctx is cancelled.
func Watch(ctx context.Context, l *Loader, debounce time.Duration) error {
	w, err := watch.New(watch.Config{
		Dirs:     l.Dirs(),
		Patterns: watch.PatternsForSuffixes(l.suffixOrder),
		Debounce: debounce,
		Logger:   l.logger.WithPrefix("watch"),
		OnChange: func(_ context.Context, changed []string) error {
			l.logger.Info("unit files changed, clearing registry", "files", len(changed))
			l.Clear()
			return nil
		},
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
