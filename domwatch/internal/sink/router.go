package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// Router fans out to every configured sink. A failing sink does not stop
// delivery to the others; the first error is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, batch mutation.Batch) error {
	return r.each(func(s Sink) error { return s.Send(ctx, batch) }, "batch", batch.Seq)
}

func (r *Router) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	return r.each(func(s Sink) error { return s.SendSnapshot(ctx, snap) }, "snapshot", 0)
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(fn func(Sink) error, kind string, seq uint64) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: delivery failed", "kind", kind, "seq", seq, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
