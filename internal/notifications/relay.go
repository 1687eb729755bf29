package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
)

const maxErrorBody = 512

// ErrRelayNotConfigured is returned when the relay endpoint is missing.
var ErrRelayNotConfigured = errors.New("notifications: relay url is not configured")

// RelayError reports a non-success answer from the messaging relay.
type RelayError struct {
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("notifications: relay returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("notifications: relay returned status %d: %s", e.StatusCode, e.Body)
}

// RelayConfig configures the outbound relay client.
type RelayConfig struct {
	URL        string
	SenderID   string
	Username   string
	HTTPClient *http.Client
	Renderer   SummaryRenderer
	Clock      func() time.Time
}

// Relay posts order summaries to a form-encoded SMS style gateway.
type Relay struct {
	endpoint string
	senderID string
	username string
	client   *http.Client
	renderer SummaryRenderer
	clock    func() time.Time
}

// NewRelay validates cfg and returns a relay client.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, ErrRelayNotConfigured
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("notifications: invalid relay url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	renderer := cfg.Renderer
	if renderer.printer == nil {
		renderer = NewSummaryRenderer("", nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Relay{
		endpoint: endpoint,
		senderID: strings.TrimSpace(cfg.SenderID),
		username: strings.TrimSpace(cfg.Username),
		client:   client,
		renderer: renderer,
		clock:    clock,
	}, nil
}

// SendOrderSummary renders order and delivers it to the admin phone in settings. Deadlines come
// from ctx; the relay client itself has no timeout.
func (r *Relay) SendOrderSummary(ctx context.Context, settings domain.NotificationSettings, order domain.Order) error {
	placed := order.CreatedAt
	if placed.IsZero() {
		placed = r.clock()
	}
	return r.Send(ctx, settings.APIKey, settings.AdminPhone, r.renderer.Render(order, placed))
}

// Send posts one message.
func (r *Relay) Send(ctx context.Context, apiKey, to, body string) error {
	form := url.Values{}
	form.Set("to", to)
	form.Set("message", body)
	if r.senderID != "" {
		form.Set("from", r.senderID)
	}
	if r.username != "" {
		form.Set("username", r.username)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("notifications: build relay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifications: relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RelayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}
