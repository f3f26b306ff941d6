// Package domwatch drives the chat page in Chrome: it keeps one tab open
// on the conversation, streams structural changes and snapshots to sinks,
// and gives the coordinator live access to the page (document, framework
// state, hover labels).
package domwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/dom"
	"github.com/hazyhaar/hovertime/domwatch/internal/browser"
	"github.com/hazyhaar/hovertime/domwatch/internal/fetcher"
	"github.com/hazyhaar/hovertime/domwatch/internal/observer"
	"github.com/hazyhaar/hovertime/domwatch/internal/sink"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// ErrNoPage is returned while no tab is open (before Start, during a
// browser recycle, after Stop).
var ErrNoPage = fmt.Errorf("domwatch: no open page")

// Watcher owns the browser, the chat tab and its observer.
type Watcher struct {
	cfg    Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	logger *slog.Logger

	mu  sync.Mutex
	tab *browser.Tab
	obs *observer.Observer
}

// New creates a Watcher. cfg is completed with defaults.
func New(cfg Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		UserDataDir:      cfg.Browser.UserDataDir,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          browser.ParseStealth(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	return &Watcher{
		cfg:    cfg,
		mgr:    mgr,
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
	}
}

// Start launches the browser, opens the chat page and starts observing.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.Page.URL == "" {
		return fmt.Errorf("domwatch: page url is required")
	}
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("domwatch: start browser: %w", err)
	}

	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.closePage,
		AfterRecycle: func(*rod.Browser) {
			if err := w.openPage(ctx, "reset"); err != nil {
				w.logger.Error("domwatch: reopen page after recycle failed", "error", err)
			}
		},
	})

	return w.openPage(ctx, "start")
}

// Stop closes the page, the sinks and the browser.
func (w *Watcher) Stop() {
	w.closePage()
	w.sinkR.Close()
	w.mgr.Close()
}

// openPage opens the tab, waits for the conversation to render and starts
// the observer, whose first snapshot carries reason.
func (w *Watcher) openPage(ctx context.Context, reason string) error {
	level := browser.ParseStealth(w.cfg.Browser.Stealth)
	if level == browser.LevelHTTP {
		level = browser.LevelHeadless
	}
	tab, err := browser.OpenTab(ctx, w.mgr, w.cfg.Page.URL, w.cfg.Page.ID, level)
	if err != nil {
		return fmt.Errorf("domwatch: open tab: %w", err)
	}
	if err := tab.WaitReady(ctx, w.cfg.Page.ReadySelector, w.cfg.Page.ReadyTimeout); err != nil {
		w.logger.Warn("domwatch: page not ready, observing anyway", "url", w.cfg.Page.URL, "error", err)
	}

	obs := observer.New(observer.Config{
		Tab:            tab,
		Sink:           w.sinkR,
		Root:           w.cfg.Page.Root,
		DebounceWindow: w.cfg.Debounce.Window,
		DebounceMax:    w.cfg.Debounce.MaxBuffer,
		SettleDelay:    w.cfg.Page.SettleDelay,
		Logger:         w.logger,
	})
	obs.SetContext(ctx)

	// The tab is published first: the snapshot sent by Start makes the
	// coordinator read the document right away.
	w.mu.Lock()
	w.tab, w.obs = tab, obs
	w.mu.Unlock()

	if err := obs.Start(reason); err != nil {
		w.closePage()
		return fmt.Errorf("domwatch: start observer: %w", err)
	}
	w.logger.Info("domwatch: observing page",
		"url", w.cfg.Page.URL, "id", w.cfg.Page.ID, "stealth", level)
	return nil
}

func (w *Watcher) closePage() {
	w.mu.Lock()
	tab, obs := w.tab, w.obs
	w.tab, w.obs = nil, nil
	w.mu.Unlock()

	if obs != nil {
		obs.Stop()
	}
	if tab != nil {
		if err := tab.Close(); err != nil {
			w.logger.Debug("domwatch: close tab", "error", err)
		}
	}
}

func (w *Watcher) currentTab() (*browser.Tab, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tab == nil {
		return nil, ErrNoPage
	}
	return w.tab, nil
}

func (w *Watcher) eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	tab, err := w.currentTab()
	if err != nil {
		return gson.JSON{}, err
	}
	return tab.Eval(ctx, js, args...)
}

// Document parses the live DOM. It implements coordinator.Document.
func (w *Watcher) Document(ctx context.Context) (*html.Node, error) {
	tab, err := w.currentTab()
	if err != nil {
		return nil, err
	}
	raw, err := tab.GetFullDOM(ctx)
	if err != nil {
		return nil, err
	}
	return dom.Parse(raw)
}

// Probe returns the framework-state reader for the live page.
func (w *Watcher) Probe() *StateProbe {
	return &StateProbe{eval: w.eval, prefix: w.cfg.Page.StatePrefix}
}

// Attacher returns the hover-label installer for the live page.
func (w *Watcher) Attacher() *Attacher {
	return &Attacher{eval: w.eval}
}

// FetchSnapshot is the browserless path: one GET of pageURL. sufficient is
// false when the body looks like a client-rendered shell that needs the
// browser.
func FetchSnapshot(ctx context.Context, pageURL string, logger *slog.Logger) (snap mutation.Snapshot, sufficient bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	res, err := fetcher.New(fetcher.WithLogger(logger)).Fetch(ctx, pageURL, "chat")
	if err != nil {
		return mutation.Snapshot{}, false, err
	}
	return res.Snapshot, res.Sufficient, nil
}
