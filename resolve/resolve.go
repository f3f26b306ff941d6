// Package resolve recovers the creation time of a message container.
//
// Two sources are tried in order. The framework-state path asks an optional
// StateProbe for the create_time the host application keeps in its render
// tree; it is authoritative when present. The markup path looks for a
// <time datetime> element in the container, then in the enclosing
// conversation turn, and returns the attribute verbatim.
package resolve

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/classify"
	"github.com/hazyhaar/hovertime/dom"
)

// ISOLayout is the layout of timestamps produced from framework state.
// It matches Date.prototype.toISOString.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// DefaultRetryDelay is how long ResolveLater waits before its single retry.
const DefaultRetryDelay = 500 * time.Millisecond

// Bounds of four-digit years: 0000-01-01 and 9999-12-31T23:59:59.999Z.
const (
	minMillis = -62167219200000
	maxMillis = 253402300799999
)

// StateProbe reads host framework state attached to a node. Implementations
// report ok=false when the state is missing or malformed; the two are not
// distinguished.
type StateProbe interface {
	CreateTime(ctx context.Context, n *html.Node) (seconds float64, ok bool)
}

// StateProbeFunc adapts a function to StateProbe.
type StateProbeFunc func(ctx context.Context, n *html.Node) (float64, bool)

// CreateTime implements StateProbe.
func (f StateProbeFunc) CreateTime(ctx context.Context, n *html.Node) (float64, bool) {
	return f(ctx, n)
}

// Scheduler runs fn after d. The coordinator supplies one that posts back to
// its event loop.
type Scheduler func(d time.Duration, fn func())

// Config configures a Resolver.
type Config struct {
	Probe      StateProbe // nil disables the framework-state path
	Classifier *classify.Classifier
	RetryDelay time.Duration
	Schedule   Scheduler
	Logger     *slog.Logger
}

// Resolver extracts timestamps. It holds no per-message state.
type Resolver struct {
	probe      StateProbe
	cls        *classify.Classifier
	timeSel    *dom.Selector
	retryDelay time.Duration
	schedule   Scheduler
	logger     *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		probe:      cfg.Probe,
		cls:        cfg.Classifier,
		timeSel:    dom.MustCompile("time[datetime]"),
		retryDelay: cfg.RetryDelay,
		schedule:   cfg.Schedule,
		logger:     cfg.Logger,
	}
}

// Resolve runs both paths once and returns the ISO timestamp, or ok=false.
func (r *Resolver) Resolve(ctx context.Context, container *html.Node) (string, bool) {
	if container == nil {
		return "", false
	}
	if iso, ok := r.FromState(ctx, container); ok {
		return iso, true
	}
	return r.FromMarkup(container)
}

// FromState runs the framework-state path alone.
func (r *Resolver) FromState(ctx context.Context, n *html.Node) (string, bool) {
	if r.probe == nil || n == nil {
		return "", false
	}
	secs, ok := r.probe.CreateTime(ctx, n)
	if !ok {
		return "", false
	}
	iso, ok := FormatCreateTime(secs)
	if !ok {
		r.logger.Debug("resolve: malformed create_time", "value", secs)
	}
	return iso, ok
}

// FromMarkup runs the markup path alone. An empty datetime attribute is a miss.
func (r *Resolver) FromMarkup(container *html.Node) (string, bool) {
	el := dom.QueryFirst(container, r.timeSel)
	if el == nil {
		if turn := r.cls.ConversationTurn(container); turn != nil {
			el = dom.QueryFirst(turn, r.timeSel)
		}
	}
	if el == nil {
		return "", false
	}
	v := dom.Attr(el, "datetime")
	return v, v != ""
}

// ResolveLater schedules exactly one retry after the retry delay. When it
// fires, locate returns the container in the current document (nil when the
// node is gone) and done receives the outcome. A vanished container or a
// cancelled context is reported as a miss.
func (r *Resolver) ResolveLater(ctx context.Context, locate func(context.Context) *html.Node, done func(iso string, ok bool)) {
	r.schedule(r.retryDelay, func() {
		if ctx.Err() != nil {
			done("", false)
			return
		}
		n := locate(ctx)
		if n == nil {
			done("", false)
			return
		}
		done(r.Resolve(ctx, n))
	})
}

// FormatCreateTime converts a create_time in seconds since the epoch to an
// ISO timestamp. Zero, non-finite and out-of-range values are rejected.
func FormatCreateTime(seconds float64) (string, bool) {
	if seconds == 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "", false
	}
	ms := math.Trunc(seconds * 1000)
	if ms < minMillis || ms > maxMillis {
		return "", false
	}
	return time.UnixMilli(int64(ms)).UTC().Format(ISOLayout), true
}
