// Package sink defines output backends for page observations.
package sink

import (
	"context"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// Sink receives mutation batches and snapshots. The coordinator is the
// main implementation; stdout and webhook sinks mirror the stream for
// debugging.
type Sink interface {
	Send(ctx context.Context, batch mutation.Batch) error
	SendSnapshot(ctx context.Context, snap mutation.Snapshot) error
	Close() error
}
