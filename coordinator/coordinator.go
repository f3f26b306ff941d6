// Package coordinator recognises chat messages in a page, resolves their
// creation time and asks a display collaborator to show it on hover.
//
// A Coordinator owns one page session: the settings snapshot, the set of
// fingerprints already processed, the set of fingerprints with an attached
// overlay, and the pending rescan. All of it is touched only by the event
// loop started with Run. Mutation batches, snapshots, refresh requests and
// timer callbacks are posted to that loop, so none of the handlers need
// locks.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/classify"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
	"github.com/hazyhaar/hovertime/resolve"
	"github.com/hazyhaar/hovertime/store"
)

// Default delays.
const (
	DefaultStateAttachDelay = 100 * time.Millisecond
	DefaultRetryDelay       = resolve.DefaultRetryDelay
	DefaultRescanDelay      = 500 * time.Millisecond
)

// ErrStopped is returned when the event loop is not running any more.
var ErrStopped = errors.New("coordinator: stopped")

// Document returns the current document tree. Live sources fetch a fresh
// copy on every call; static sources return the same tree.
type Document interface {
	Document(ctx context.Context) (*html.Node, error)
}

// DocumentFunc adapts a function to Document.
type DocumentFunc func(ctx context.Context) (*html.Node, error)

// Document implements Document.
func (f DocumentFunc) Document(ctx context.Context) (*html.Node, error) { return f(ctx) }

// StaticDocument serves one parsed tree.
func StaticDocument(doc *html.Node) Document {
	return DocumentFunc(func(context.Context) (*html.Node, error) { return doc, nil })
}

// Attacher shows timestamps on hover. Attach is only called once a
// timestamp is stored for fp; label is the rendered, sanitised label HTML.
type Attacher interface {
	Attach(ctx context.Context, container *html.Node, fp, label string) error
	DetachAll(ctx context.Context) error
}

// Config wires a Coordinator.
type Config struct {
	Document   Document
	Attacher   Attacher
	Timestamps *store.Timestamps
	Settings   *store.Settings
	Classifier *classify.Classifier
	Probe      resolve.StateProbe // optional framework-state source
	Location   *time.Location     // display time zone, default time.Local

	StateAttachDelay time.Duration
	RetryDelay       time.Duration
	RescanDelay      time.Duration

	Logger *slog.Logger
}

// Stats are point-in-time counters.
type Stats struct {
	Scans     int64 `json:"scans"`
	Batches   int64 `json:"batches"`
	Refreshes int64 `json:"refreshes"`
	Processed int64 `json:"processed"`
	Resolved  int64 `json:"resolved"`
	Retries   int64 `json:"retries"`
	Misses    int64 `json:"misses"`
	Attached  int64 `json:"attached"`
	Stored    int   `json:"stored"`
}

// Coordinator is the scan and mutation coordinator for one page.
type Coordinator struct {
	cfg      Config
	resolver *resolve.Resolver
	logger   *slog.Logger

	events  chan func(context.Context)
	done    chan struct{}
	running atomic.Bool

	sess *session // owned by the loop

	scans, batches, refreshes      atomic.Int64
	processed, resolved            atomic.Int64
	retries, misses, attachedGauge atomic.Int64
}

// New validates cfg and creates a Coordinator. Call Run to start it.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Document == nil {
		return nil, fmt.Errorf("coordinator: document source is required")
	}
	if cfg.Attacher == nil {
		return nil, fmt.Errorf("coordinator: attacher is required")
	}
	if cfg.Timestamps == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("coordinator: timestamp and settings stores are required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.StateAttachDelay <= 0 {
		cfg.StateAttachDelay = DefaultStateAttachDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RescanDelay <= 0 {
		cfg.RescanDelay = DefaultRescanDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan func(context.Context), 256),
		done:   make(chan struct{}),
	}
	c.resolver = resolve.New(resolve.Config{
		Probe:      cfg.Probe,
		Classifier: cfg.Classifier,
		RetryDelay: cfg.RetryDelay,
		Schedule: func(d time.Duration, fn func()) {
			c.after(d, func(context.Context) { fn() })
		},
		Logger: cfg.Logger,
	})
	return c, nil
}

// Run loads the stores, performs the initial scan and processes events
// until ctx is cancelled. It may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator: already running")
	}
	defer close(c.done)

	c.cfg.Settings.Load(ctx)
	c.cfg.Timestamps.Load(ctx)
	c.sess = newSession(c.cfg.Settings.Current())
	defer c.sess.stop()

	c.logger.Info("coordinator: started", "stored", c.cfg.Timestamps.Len())
	c.exec(ctx, c.scan)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator: stopped")
			return ctx.Err()
		case fn := <-c.events:
			c.exec(ctx, fn)
		}
	}
}

// exec runs one event. A panic is logged and the loop continues.
func (c *Coordinator) exec(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordinator: event panicked", "panic", r)
		}
	}()
	fn(ctx)
}

// post queues fn on the loop. It reports false once the loop has exited.
func (c *Coordinator) post(fn func(context.Context)) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// after posts fn to the loop once d has elapsed. Pending timers are never
// cancelled; whatever they touch must tolerate a changed document.
func (c *Coordinator) after(d time.Duration, fn func(context.Context)) *time.Timer {
	return time.AfterFunc(d, func() { c.post(fn) })
}

// call runs fn on the loop and waits for it.
func (c *Coordinator) call(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	wrapped := func(lctx context.Context) {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("coordinator: panic: %v", r)
			}
			errc <- err
		}()
		err = fn(lctx)
	}
	select {
	case c.events <- wrapped:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan runs a full scan now. Already processed messages are skipped.
func (c *Coordinator) Scan(ctx context.Context) error {
	return c.call(ctx, func(lctx context.Context) error {
		c.scan(lctx)
		return nil
	})
}

// Refresh removes every overlay, forgets which messages were processed,
// takes a new settings snapshot and scans again.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.call(ctx, func(lctx context.Context) error {
		c.refresh(lctx, "requested")
		return nil
	})
}

// Send accepts a mutation batch from the page observer. It never blocks on
// processing and never fails because of the batch contents.
func (c *Coordinator) Send(ctx context.Context, b mutation.Batch) error {
	if !c.running.Load() {
		return ErrStopped
	}
	select {
	case c.events <- func(lctx context.Context) { c.handleBatch(lctx, b) }:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSnapshot accepts a full-document snapshot and triggers an ordinary
// scan. A new document lifetime is announced by a doc_reset batch, which
// the observer sends ahead of the reset snapshot.
func (c *Coordinator) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if !c.running.Load() {
		return ErrStopped
	}
	c.logger.Debug("coordinator: snapshot", "reason", snap.Reason, "size", len(snap.HTML))
	select {
	case c.events <- func(lctx context.Context) { c.scan(lctx) }:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the sink contract. The loop stops with Run's context.
func (c *Coordinator) Close() error { return nil }

// Attachments returns the messages currently showing an overlay.
func (c *Coordinator) Attachments(ctx context.Context) ([]Attachment, error) {
	var out []Attachment
	err := c.call(ctx, func(context.Context) error {
		out = c.sess.attachments()
		return nil
	})
	return out, err
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Scans:     c.scans.Load(),
		Batches:   c.batches.Load(),
		Refreshes: c.refreshes.Load(),
		Processed: c.processed.Load(),
		Resolved:  c.resolved.Load(),
		Retries:   c.retries.Load(),
		Misses:    c.misses.Load(),
		Attached:  c.attachedGauge.Load(),
		Stored:    c.cfg.Timestamps.Len(),
	}
}
