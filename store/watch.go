package store

import (
	"context"
	"log/slog"
	"time"
)

// VersionFunc reads a version token. Two different tokens mean the watched
// value changed.
type VersionFunc func(ctx context.Context) (int64, error)

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch polls version until ctx is done and calls action after each change
// once the debounce window has passed quietly. A failed action leaves the
// version unacknowledged, so the next poll retries it.
func Watch(ctx context.Context, version VersionFunc, opts WatchOptions, action func(context.Context) error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	seen, err := version(ctx)
	if err != nil {
		log.Warn("store: watch: initial version check failed", "error", err)
		seen = -1
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	fire := func(v int64) {
		if err := action(ctx); err != nil {
			log.Error("store: watch: action failed", "error", err, "version", v)
			return
		}
		seen = v
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			cur, err := version(ctx)
			if err != nil {
				log.Warn("store: watch: version check failed", "error", err)
				continue
			}
			if cur == seen || cur == pending {
				continue
			}
			pending = cur
			if opts.Debounce <= 0 {
				fire(pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(opts.Debounce)
			debounceCh = debounce.C
			log.Debug("store: watch: change detected", "version", cur)

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				fire(pending)
				pending = -1
			}
		}
	}
}

// WatchSettings reloads s whenever its key is rewritten by another writer
// and calls onChange when the merged settings differ from the current ones.
func WatchSettings(ctx context.Context, kv *SQLiteKV, s *Settings, opts WatchOptions, onChange func(context.Context) error) {
	version := func(ctx context.Context) (int64, error) {
		return kv.Version(ctx, s.Key())
	}
	Watch(ctx, version, opts, func(ctx context.Context) error {
		if !s.Load(ctx) {
			return nil
		}
		return onChange(ctx)
	})
}
