// Package observer watches the chat page through an injected
// MutationObserver and forwards debounced structural changes to a sink.
package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/hovertime/domwatch/internal/browser"
	"github.com/hazyhaar/hovertime/domwatch/internal/sink"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

//go:embed observer.js
var observerJS string

// BindingName is the Runtime binding the page script reports through.
const BindingName = "__hovertime_binding"

const opNavigateSignal = "__navigate"

// Config for creating an Observer.
type Config struct {
	Tab  *browser.Tab
	Sink sink.Sink

	// Root is the selector of the observed subtree. Default: "main", with
	// document.body as the page-side fallback.
	Root string

	DebounceWindow time.Duration
	DebounceMax    int

	// SettleDelay is the quiet period awaited after a navigation or a
	// document reset before the snapshot is taken. Default: 500ms.
	SettleDelay time.Duration

	Logger *slog.Logger
}

// Observer manages observation of one tab.
type Observer struct {
	tab    *browser.Tab
	sink   sink.Sink
	root   string
	settle time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	rawCh      chan mutation.Record
	navCh      chan string
	docResetCh chan struct{}

	debouncer *debouncer
	seq       atomic.Uint64

	removeScript func() error
	stopOnce     sync.Once
}

// New creates an Observer for the given tab.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Root == "" {
		cfg.Root = "main"
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer{
		tab:        cfg.Tab,
		sink:       cfg.Sink,
		root:       cfg.Root,
		settle:     cfg.SettleDelay,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		rawCh:      make(chan mutation.Record, 4096),
		navCh:      make(chan string, 8),
		docResetCh: make(chan struct{}, 1),
	}
	o.debouncer = newDebouncer(debounceConfig{
		Window:    cfg.DebounceWindow,
		MaxBuffer: cfg.DebounceMax,
	}, o.emitBatch)
	return o
}

// SetContext ties the observer's lifetime to ctx. Call before Start.
func (o *Observer) SetContext(ctx context.Context) {
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Start installs the page script, emits a snapshot with the given reason
// and runs the processing loop. A reset reason is preceded by a doc_reset
// batch so consumers start a new document lifetime.
func (o *Observer) Start(reason string) error {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(o.tab.Page); err != nil {
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}
	go o.listen()

	remove, err := o.tab.Page.EvalOnNewDocument(fmt.Sprintf("(%s)(%q, %q)", observerJS, BindingName, o.root))
	if err != nil {
		return fmt.Errorf("observer: install script: %w", err)
	}
	o.removeScript = remove
	if err := o.inject(); err != nil {
		return err
	}

	if reason == "reset" {
		o.emitBatch([]mutation.Record{{Op: mutation.OpDocReset}})
	}
	o.emitSnapshot(reason)

	go o.loop()
	return nil
}

// Stop flushes pending records and stops the loop.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		if o.removeScript != nil {
			if err := o.removeScript(); err != nil {
				o.logger.Debug("observer: remove script", "error", err)
			}
		}
	})
}

// inject runs the script in the current document. It is a no-op when the
// script already runs there.
func (o *Observer) inject() error {
	v, err := o.tab.Eval(o.ctx, observerJS, BindingName, o.root)
	if err != nil {
		return fmt.Errorf("observer: inject: %w", err)
	}
	o.logger.Debug("observer: script injected", "url", o.tab.PageURL, "fresh", v.Bool())
	return nil
}

// listen receives binding calls from the page script and main-frame
// navigations from CDP.
func (o *Observer) listen() {
	o.tab.Page.Context(o.ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != BindingName {
				return
			}
			recs, err := parsePayload(e.Payload)
			if err != nil {
				o.logger.Warn("observer: parse binding payload", "error", err)
				return
			}
			for _, r := range recs {
				if r.Op == opNavigateSignal {
					select {
					case o.navCh <- r.Value:
					case <-o.ctx.Done():
					}
					continue
				}
				select {
				case o.rawCh <- r:
				case <-o.ctx.Done():
					return
				}
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			select {
			case o.docResetCh <- struct{}{}:
			default:
			}
		},
	)()
}

// parsePayload decodes one binding call. Records with an unknown op are
// dropped.
func parsePayload(payload string) ([]mutation.Record, error) {
	var raw []mutation.Record
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, r := range raw {
		switch r.Op {
		case mutation.OpInsert, mutation.OpRemove, opNavigateSignal:
			out = append(out, r)
		}
	}
	return out, nil
}

// loop owns the debouncer: records, timer expiry, navigations and resets
// are all handled here.
func (o *Observer) loop() {
	defer o.debouncer.flush()
	for {
		select {
		case <-o.ctx.Done():
			return
		case r := <-o.rawCh:
			o.debouncer.add(r)
		case <-o.debouncer.timerC():
			o.debouncer.flush()
		case u := <-o.navCh:
			o.handleNavigate(u)
		case <-o.docResetCh:
			o.handleDocReset()
		}
	}
}

func (o *Observer) emitBatch(records []mutation.Record) {
	if len(records) == 0 {
		return
	}
	batch := mutation.Batch{
		ID:        mutation.NewID(),
		PageURL:   o.tab.PageURL,
		PageID:    o.tab.PageID,
		Seq:       o.seq.Add(1),
		Records:   records,
		Timestamp: mutation.Now(),
	}
	if err := o.sink.Send(o.ctx, batch); err != nil {
		o.logger.Error("observer: send batch failed", "seq", batch.Seq, "error", err)
	}
}

func (o *Observer) emitSnapshot(reason string) {
	html, err := o.tab.GetFullDOM(o.ctx)
	if err != nil {
		o.logger.Error("observer: get DOM for snapshot", "error", err)
		return
	}
	snap := mutation.Snapshot{
		ID:        mutation.NewID(),
		PageURL:   o.tab.PageURL,
		PageID:    o.tab.PageID,
		Reason:    reason,
		HTML:      html,
		HTMLHash:  mutation.HashHTML(html),
		Timestamp: mutation.Now(),
	}
	if err := o.sink.SendSnapshot(o.ctx, snap); err != nil {
		o.logger.Error("observer: send snapshot failed", "error", err)
	}
	o.logger.Info("observer: snapshot emitted",
		"url", o.tab.PageURL, "reason", reason, "size", len(html))
}
