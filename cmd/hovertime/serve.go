package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/hovertime/api"
	"github.com/hazyhaar/hovertime/config"
)

// serve runs the HTTP API and the MCP server until ctx is done. It returns
// nil at once when neither is enabled.
func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, svc *api.Service, o options) error {
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "hovertime", Version: version}, nil)
	svc.RegisterMCP(mcpSrv)

	errc := make(chan error, 2)
	running := 0

	if cfg.HTTP.Addr != "" {
		running++
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           svc.Handler(mcpSrv),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("hovertime: api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("hovertime: api shutdown", "error", err)
			}
		}()
	}

	if o.mcpStdio {
		running++
		go func() {
			logger.Info("hovertime: mcp on stdio")
			errc <- mcpSrv.Run(ctx, &mcp.StdioTransport{})
		}()
	}

	var first error
	for range running {
		if err := <-errc; err != nil && first == nil && ctx.Err() == nil {
			first = err
		}
	}
	return first
}
