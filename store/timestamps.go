package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"sync"
)

// DefaultTimestampsKey is the key holding the fingerprint to timestamp map.
const DefaultTimestampsKey = "chatgpt_timestamps"

// Timestamps is the in-memory fingerprint to ISO-8601 mapping, loaded from
// and saved to a single KV key. Records are write-once: a fingerprint that
// holds a non-empty value is never overwritten.
//
// Persistence failures are logged and swallowed; the in-memory map stays
// authoritative for the rest of the session.
type Timestamps struct {
	kv     KV
	key    string
	logger *slog.Logger

	mu sync.RWMutex
	m  map[string]string
}

// NewTimestamps creates an empty mapping bound to key.
func NewTimestamps(kv KV, key string, logger *slog.Logger) *Timestamps {
	if key == "" {
		key = DefaultTimestampsKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timestamps{kv: kv, key: key, logger: logger, m: make(map[string]string)}
}

// Load replaces the in-memory map with the stored one, if any.
func (t *Timestamps) Load(ctx context.Context) {
	raw, err := t.kv.Get(ctx, t.key)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		t.logger.Warn("store: load timestamps", "key", t.key, "error", err)
		return
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.logger.Warn("store: decode timestamps", "key", t.key, "error", err)
		return
	}
	if m == nil {
		// A stored null counts as nothing stored.
		return
	}
	t.mu.Lock()
	t.m = m
	t.mu.Unlock()
	t.logger.Debug("store: timestamps loaded", "count", len(m))
}

// Save writes the complete map.
func (t *Timestamps) Save(ctx context.Context) {
	t.mu.RLock()
	raw, err := json.Marshal(t.m)
	t.mu.RUnlock()
	if err != nil {
		t.logger.Warn("store: encode timestamps", "error", err)
		return
	}
	if err := t.kv.Put(ctx, t.key, string(raw)); err != nil {
		t.logger.Warn("store: save timestamps", "key", t.key, "error", err)
	}
}

// Get returns the timestamp for fp. Empty values count as absent.
func (t *Timestamps) Get(fp string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := t.m[fp]
	return v, v != ""
}

// PutIfAbsent records iso for fp unless a non-empty value is already there.
// It reports whether the map changed.
func (t *Timestamps) PutIfAbsent(fp, iso string) bool {
	if iso == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m[fp] != "" {
		return false
	}
	t.m[fp] = iso
	return true
}

// All returns a copy of the mapping.
func (t *Timestamps) All() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.m)
}

// Len returns the number of records.
func (t *Timestamps) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
