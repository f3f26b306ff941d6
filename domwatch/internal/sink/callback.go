package sink

import (
	"context"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// BatchFunc is called for each batch.
type BatchFunc func(ctx context.Context, batch mutation.Batch) error

// SnapshotFunc is called for each snapshot.
type SnapshotFunc func(ctx context.Context, snap mutation.Snapshot) error

// Callback delivers in process, without serialisation. It is how the
// observer reaches a coordinator living in the same binary.
type Callback struct {
	onBatch    BatchFunc
	onSnapshot SnapshotFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onBatch BatchFunc, onSnapshot SnapshotFunc) *Callback {
	return &Callback{onBatch: onBatch, onSnapshot: onSnapshot}
}

func (c *Callback) Send(ctx context.Context, batch mutation.Batch) error {
	if c.onBatch != nil {
		return c.onBatch(ctx, batch)
	}
	return nil
}

func (c *Callback) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if c.onSnapshot != nil {
		return c.onSnapshot(ctx, snap)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
