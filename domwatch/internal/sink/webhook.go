package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// Webhook POSTs each event as JSON. Network errors, 408, 429 and 5xx are
// retried with exponential backoff, stretched to the server's Retry-After;
// other statuses fail at once. Snapshots are posted without their HTML body.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger. nil keeps the default.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, batch mutation.Batch) error {
	return w.post(ctx, envelope{Type: "batch", Data: batch})
}

func (w *Webhook) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	snap.HTML = nil
	return w.post(ctx, envelope{Type: "snapshot", Data: snap})
}

func (w *Webhook) Close() error { return nil }

// errPermanent marks a response that a retry cannot fix.
var errPermanent = errors.New("webhook: rejected")

func (w *Webhook) post(ctx context.Context, e envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		wait = w.backoff << uint(attempt)

		retryAfter, err := w.deliver(ctx, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			return err
		}
		if retryAfter > wait {
			wait = retryAfter
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed", "type", e.Type, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// deliver makes one POST. It returns the server's Retry-After hint, if any.
func (w *Webhook) deliver(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: new request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook: status %d", code)
	default:
		return 0, fmt.Errorf("%w: status %d", errPermanent, code)
	}
}

// retryAfter reads a Retry-After value given in seconds. HTTP dates are
// ignored.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
