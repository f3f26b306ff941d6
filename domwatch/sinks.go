package domwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/hovertime/domwatch/internal/sink"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// Sink is the output interface for observations.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. Snapshot HTML is omitted.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink delivers in process. It is how a coordinator in the same
// binary receives the stream.
func NewCallbackSink(
	onBatch func(ctx context.Context, batch mutation.Batch) error,
	onSnapshot func(ctx context.Context, snap mutation.Snapshot) error,
) Sink {
	return sink.NewCallback(onBatch, onSnapshot)
}

// BuildSinks creates the sinks listed in cfg. w receives stdout sinks.
func BuildSinks(cfg []SinkConfig, w io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(w))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("domwatch: sink %d: webhook needs a url", i)
			}
			out = append(out, NewWebhookSink(sc.URL, logger))
		default:
			return nil, fmt.Errorf("domwatch: sink %d: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
