package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/api"
	"github.com/hazyhaar/hovertime/classify"
	"github.com/hazyhaar/hovertime/config"
	"github.com/hazyhaar/hovertime/coordinator"
	"github.com/hazyhaar/hovertime/dom"
	"github.com/hazyhaar/hovertime/domwatch"
)

// recordingAttacher accepts every attachment. A saved page has nowhere to
// show a label; the coordinator's attachment list is the output.
type recordingAttacher struct{}

func (recordingAttacher) Attach(context.Context, *html.Node, string, string) error { return nil }
func (recordingAttacher) DetachAll(context.Context) error                          { return nil }

// runStatic resolves every user message of one document, persists the
// timestamps and prints one JSON line per message.
func runStatic(ctx context.Context, logger *slog.Logger, cfg *config.Config, st *stores, o options, out io.Writer) error {
	raw, pageURL, err := readStatic(ctx, logger, o)
	if err != nil {
		return err
	}
	doc, err := dom.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	cls, err := classify.New(cfg.Selectors)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	coord, err := coordinator.New(coordinator.Config{
		Document:    coordinator.StaticDocument(doc),
		Attacher:    recordingAttacher{},
		Timestamps:  st.timestamps,
		Settings:    st.settings,
		Classifier:  cls,
		Location:    loc,
		RetryDelay:  cfg.Delays.Retry,
		RescanDelay: cfg.Delays.Rescan,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(runCtx)
	}()

	// Run scans once on start; this second scan returns after it.
	if err := coord.Scan(ctx); err != nil {
		return err
	}
	// Give the single delayed retry a chance before reporting.
	retry := cfg.Delays.Retry
	if retry <= 0 {
		retry = coordinator.DefaultRetryDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retry + 100*time.Millisecond):
	}

	svc, err := api.New(api.Config{
		Timestamps: st.timestamps,
		Settings:   st.settings,
		Session:    coord,
		Location:   loc,
		PageURL:    pageURL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	entries, err := svc.Transcript(ctx)
	if err != nil {
		return err
	}
	cancel()
	<-done

	enc := json.NewEncoder(out)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	stats := coord.Stats()
	logger.Info("hovertime: static scan done",
		"messages", len(entries), "resolved", stats.Resolved, "misses", stats.Misses)
	return nil
}

func readStatic(ctx context.Context, logger *slog.Logger, o options) ([]byte, string, error) {
	if o.file != "" {
		raw, err := os.ReadFile(o.file)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", o.file, err)
		}
		return raw, "", nil
	}
	snap, sufficient, err := domwatch.FetchSnapshot(ctx, o.fetch, logger)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	if !sufficient {
		logger.Warn("hovertime: page looks client-rendered; use -url to drive it in Chrome", "url", o.fetch)
	}
	return snap.HTML, o.fetch, nil
}
