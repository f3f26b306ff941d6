// Command hovertime shows the creation time of chat messages when the
// pointer rests on them.
//
// Usage:
//
//	hovertime -url https://chat.example.com/c/123   # drive the page in Chrome
//	hovertime -config hovertime.yaml -http :8087    # same, with the JSON/MCP API
//	hovertime -file saved.html                      # resolve a saved page and exit
//	hovertime -fetch https://example.com/share/abc  # fetch once without a browser
//	hovertime -http :8087                           # API over the stores only
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/hovertime/config"
)

var version = "dev"

type options struct {
	configPath string
	pageURL    string
	file       string
	fetch      string
	dbPath     string
	httpAddr   string
	logLevel   string
	mcpStdio   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to hovertime.yaml")
	flag.StringVar(&o.pageURL, "url", "", "chat page to drive in Chrome")
	flag.StringVar(&o.file, "file", "", "resolve a saved HTML page and exit")
	flag.StringVar(&o.fetch, "fetch", "", "fetch a page over HTTP, resolve it and exit")
	flag.StringVar(&o.dbPath, "db", "", "SQLite database path")
	flag.StringVar(&o.httpAddr, "http", "", "API listen address, e.g. :8087")
	flag.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&o.mcpStdio, "mcp-stdio", false, "serve the MCP tools on stdin/stdout")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hovertime: .env: %v\n", err)
	}

	cfg, err := loadConfig(o, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hovertime: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, o); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hovertime: fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers the file, the environment and the flags, in that
// order, and validates the result.
func loadConfig(o options, getenv func(string) string) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(getenv)

	if o.pageURL != "" {
		cfg.Page.URL = o.pageURL
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, o options) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	switch {
	case o.file != "" || o.fetch != "":
		return runStatic(ctx, logger, cfg, st, o, os.Stdout)
	case cfg.Page.URL != "":
		return runLive(ctx, logger, cfg, st, o)
	case cfg.HTTP.Addr != "" || o.mcpStdio:
		return runStoreOnly(ctx, logger, cfg, st, o)
	}
	flag.Usage()
	return fmt.Errorf("nothing to do: give -url, -file, -fetch or -http")
}
