package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout). Snapshot
// HTML is left out unless WithHTML is set.
type Stdout struct {
	mu       sync.Mutex
	enc      *json.Encoder
	withHTML bool
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

// WithHTML makes snapshots carry the full document.
func (s *Stdout) WithHTML() *Stdout {
	s.withHTML = true
	return s
}

func (s *Stdout) Send(_ context.Context, batch mutation.Batch) error {
	return s.write(envelope{Type: "batch", Data: batch})
}

func (s *Stdout) SendSnapshot(_ context.Context, snap mutation.Snapshot) error {
	if !s.withHTML {
		snap.HTML = nil
	}
	return s.write(envelope{Type: "snapshot", Data: snap})
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(e envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
