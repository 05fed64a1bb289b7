package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// defaultNotifyTimeout bounds a single webhook delivery attempt.
const defaultNotifyTimeout = 10 * time.Second

// NotifierOpts holds configuration options for the webhook notifier.
type NotifierOpts struct {
	PrimaryURL  string
	FallbackURL string
	HTTPClient  *http.Client
}

// NotifierOption defines a configuration option for the webhook notifier.
type NotifierOption func(*NotifierOpts)

// WithPrimaryURL sets the primary webhook endpoint.
func WithPrimaryURL(u string) NotifierOption {
	return func(o *NotifierOpts) { o.PrimaryURL = u }
}

// WithFallbackURL sets the endpoint used when the primary delivery fails.
func WithFallbackURL(u string) NotifierOption {
	return func(o *NotifierOpts) { o.FallbackURL = u }
}

// WithNotifierHTTPClient overrides the HTTP client used for deliveries.
func WithNotifierHTTPClient(c *http.Client) NotifierOption {
	return func(o *NotifierOpts) { o.HTTPClient = c }
}

// Notifier posts completion events to an external webhook, retrying once
// against a fallback endpoint when the primary delivery fails.
type Notifier struct {
	primary  string
	fallback string
	http     *http.Client
}

// NewNotifier creates a webhook notifier, falling back to the WEBHOOK_URL
// and WEBHOOK_FALLBACK_URL environment variables when options are not
// provided. The primary URL is required.
func NewNotifier(opts ...NotifierOption) (*Notifier, error) {
	var cfg NotifierOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PrimaryURL == "" {
		cfg.PrimaryURL = os.Getenv("WEBHOOK_URL")
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = os.Getenv("WEBHOOK_FALLBACK_URL")
	}
	if cfg.PrimaryURL == "" {
		return nil, fmt.Errorf("webhook URL must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultNotifyTimeout}
	}
	return &Notifier{primary: cfg.PrimaryURL, fallback: cfg.FallbackURL, http: cfg.HTTPClient}, nil
}

// Notify posts the payload as JSON to the primary endpoint, then to the
// fallback endpoint if the primary fails. It returns an error only when
// every configured endpoint fails.
func (n *Notifier) Notify(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	if err := n.post(ctx, n.primary, body); err == nil {
		return nil
	} else if n.fallback == "" {
		return err
	} else {
		slog.Warn("primary webhook failed, trying fallback", "error", err, "fallback", n.fallback)
	}

	if err := n.post(ctx, n.fallback, body); err != nil {
		return fmt.Errorf("all webhook endpoints failed: %w", err)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	slog.Debug("webhook delivered", "url", url, "status", resp.StatusCode)
	return nil
}
