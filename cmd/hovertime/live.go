package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/hovertime/api"
	"github.com/hazyhaar/hovertime/classify"
	"github.com/hazyhaar/hovertime/config"
	"github.com/hazyhaar/hovertime/coordinator"
	"github.com/hazyhaar/hovertime/domwatch"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
	"github.com/hazyhaar/hovertime/store"
)

// runLive drives the chat page in Chrome until ctx is done.
func runLive(ctx context.Context, logger *slog.Logger, cfg *config.Config, st *stores, o options) error {
	cls, err := classify.New(cfg.Selectors)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// The observer stream reaches the coordinator in process; configured
	// sinks receive a copy.
	var coord *coordinator.Coordinator
	local := domwatch.NewCallbackSink(
		func(ctx context.Context, b mutation.Batch) error { return coord.Send(ctx, b) },
		func(ctx context.Context, s mutation.Snapshot) error { return coord.SendSnapshot(ctx, s) },
	)
	extra, err := domwatch.BuildSinks(cfg.Sinks, os.Stdout, logger)
	if err != nil {
		return err
	}
	for _, sc := range cfg.Sinks {
		if o.mcpStdio && sc.Type == "stdout" {
			return fmt.Errorf("stdout sink and -mcp-stdio both need stdout")
		}
	}
	w := domwatch.New(cfg.Config, logger, append([]domwatch.Sink{local}, extra...)...)

	coord, err = coordinator.New(coordinator.Config{
		Document:         w,
		Attacher:         w.Attacher(),
		Timestamps:       st.timestamps,
		Settings:         st.settings,
		Classifier:       cls,
		Probe:            w.Probe(),
		Location:         loc,
		StateAttachDelay: cfg.Delays.StateAttach,
		RetryDelay:       cfg.Delays.Retry,
		RescanDelay:      cfg.Delays.Rescan,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coordDone := make(chan error, 1)
	go func() { coordDone <- coord.Run(ctx) }()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start page: %w", err)
	}
	defer w.Stop()

	// Settings written by another process (a second instance, a manual
	// edit) rebuild the overlays too.
	go store.WatchSettings(ctx, st.kv, st.settings, store.WatchOptions{
		Interval: cfg.Storage.WatchInterval,
		Logger:   logger,
	}, coord.Refresh)

	svc, err := api.New(api.Config{
		Timestamps: st.timestamps,
		Settings:   st.settings,
		Session:    coord,
		Location:   loc,
		PageURL:    cfg.Page.URL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(ctx, logger, cfg, svc, o) }()

	logger.Info("hovertime: watching", "url", cfg.Page.URL, "api", cfg.HTTP.Addr)
	select {
	case err := <-coordDone:
		return err
	case err := <-serveErr:
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

// runStoreOnly serves the API over the stores without a page session.
func runStoreOnly(ctx context.Context, logger *slog.Logger, cfg *config.Config, st *stores, o options) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	svc, err := api.New(api.Config{
		Timestamps: st.timestamps,
		Settings:   st.settings,
		Location:   loc,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return serve(ctx, logger, cfg, svc, o)
}
