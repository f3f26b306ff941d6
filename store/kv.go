package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: not found")

// KV is a string key-value blob store. Every value is written whole.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// SQLiteKV is a KV over the kv table.
type SQLiteKV struct {
	db *sql.DB
}

// NewKV wraps an opened database.
func NewKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

// Get returns the value for key, or ErrNotFound.
func (k *SQLiteKV) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, nil
}

// Put replaces the value for key.
func (k *SQLiteKV) Put(ctx context.Context, key, value string) error {
	err := execRetry(ctx, k.db,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Version returns the last write time of key in nanoseconds, 0 when absent.
func (k *SQLiteKV) Version(ctx context.Context, key string) (int64, error) {
	var v int64
	err := k.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(updated_at), 0) FROM kv WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("store: version %s: %w", key, err)
	}
	return v, nil
}

// MemoryKV is an in-process KV, used for one-shot scans that persist nothing.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

// Get implements KV.
func (k *MemoryKV) Get(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Put implements KV.
func (k *MemoryKV) Put(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = value
	return nil
}
