package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/hovertime/display"
)

// DefaultSettingsKey is the key holding the display settings.
const DefaultSettingsKey = "chatgpt_timestamp_settings"

// Settings holds the current display settings. Stored values are merged
// over the defaults on load, and updates are partial.
type Settings struct {
	kv       KV
	key      string
	defaults display.Settings
	logger   *slog.Logger

	mu      sync.RWMutex
	current display.Settings
}

// NewSettings creates a settings holder starting at defaults.
func NewSettings(kv KV, key string, defaults display.Settings, logger *slog.Logger) *Settings {
	if key == "" {
		key = DefaultSettingsKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Settings{kv: kv, key: key, defaults: defaults, logger: logger, current: defaults}
}

// Key returns the KV key the settings live under.
func (s *Settings) Key() string { return s.key }

// Current returns a snapshot of the settings.
func (s *Settings) Current() display.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load merges the stored settings over the defaults. Missing fields keep
// their default; read failures leave the current settings in place.
// It reports whether the current settings changed.
func (s *Settings) Load(ctx context.Context) bool {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("store: load settings", "key", s.key, "error", err)
		return false
	}
	merged := s.defaults
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		s.logger.Warn("store: decode settings", "key", s.key, "error", err)
		return false
	}

	s.mu.Lock()
	changed := merged != s.current
	s.current = merged
	s.mu.Unlock()
	return changed
}

// Update validates the patch against the current settings, persists the
// merged result and makes it current. It reports whether anything changed.
func (s *Settings) Update(ctx context.Context, p display.Patch) (display.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Apply(p)
	if err := next.Validate(); err != nil {
		return s.current, false, fmt.Errorf("store: update settings: %w", err)
	}
	if next == s.current {
		return next, false, nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return s.current, false, fmt.Errorf("store: encode settings: %w", err)
	}
	s.current = next
	if err := s.kv.Put(ctx, s.key, string(raw)); err != nil {
		s.logger.Warn("store: save settings", "key", s.key, "error", err)
	}
	return next, true, nil
}
