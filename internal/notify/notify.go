// Package notify informs external listeners about net calendar changes.
// The engine reports every create, update, and delete it applies; delivery
// failures are logged and never fed back into the sync cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/caldsync/caldsync/internal/db"
)

// Action is the kind of change being reported.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Notifier receives one call per net change the engine applies.
type Notifier interface {
	Notify(accountID string, event *db.Event, action Action)
}

// LogNotifier writes changes to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(accountID string, event *db.Event, action Action) {
	log.Printf("[Notify] %s event uid=%s title=%q account=%s", action, event.UID, event.Title, accountID)
}

// Multi fans one notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(accountID string, event *db.Event, action Action) {
	for _, n := range m {
		n.Notify(accountID, event, action)
	}
}

// WebhookPayload is the JSON body posted to webhooks.
type WebhookPayload struct {
	Action     string `json:"action"`
	AccountID  string `json:"account_id"`
	EventUID   string `json:"event_uid"`
	Title      string `json:"title"`
	CalendarID string `json:"calendar_id"`
	Timestamp  string `json:"timestamp"`
	// Slack-compatible field
	Text string `json:"text,omitempty"`
}

// WebhookNotifier posts each change to a single webhook URL. Posts run in
// the background so a slow listener never stalls a sync cycle; Flush waits
// for in-flight posts, for shutdown and tests.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client

	wg sync.WaitGroup
}

// NewWebhookNotifier validates the URL up front and returns a notifier
// posting to it.
func NewWebhookNotifier(webhookURL string) (*WebhookNotifier, error) {
	if err := validateWebhookURL(webhookURL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	return &WebhookNotifier{
		url: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (w *WebhookNotifier) Notify(accountID string, event *db.Event, action Action) {
	emoji := ""
	switch action {
	case ActionCreated:
		emoji = ":heavy_plus_sign:"
	case ActionUpdated:
		emoji = ":arrows_counterclockwise:"
	case ActionDeleted:
		emoji = ":wastebasket:"
	}

	payload := WebhookPayload{
		Action:     string(action),
		AccountID:  accountID,
		EventUID:   event.UID,
		Title:      event.Title,
		CalendarID: event.CalendarID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Text:       fmt.Sprintf("%s *%s*: %s", emoji, action, event.Title),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.post(payload); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}()
}

// Flush waits for all in-flight webhook posts to finish.
func (w *WebhookNotifier) Flush() {
	w.wg.Wait()
}

func (w *WebhookNotifier) post(payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// validateWebhookURL validates that the webhook URL is safe to use.
func validateWebhookURL(webhookURL string) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow HTTPS for webhooks (security requirement)
	if parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL must use HTTPS")
	}

	// Block localhost and private IP ranges to prevent SSRF
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("webhook URL cannot point to localhost")
	}

	// Block common internal hostnames
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("webhook URL cannot point to internal hosts")
	}

	// Block private IP ranges (10.x.x.x, 172.16-31.x.x, 192.168.x.x)
	if strings.HasPrefix(host, "10.") ||
		strings.HasPrefix(host, "192.168.") ||
		strings.HasPrefix(host, "172.16.") ||
		strings.HasPrefix(host, "172.17.") ||
		strings.HasPrefix(host, "172.18.") ||
		strings.HasPrefix(host, "172.19.") ||
		strings.HasPrefix(host, "172.20.") ||
		strings.HasPrefix(host, "172.21.") ||
		strings.HasPrefix(host, "172.22.") ||
		strings.HasPrefix(host, "172.23.") ||
		strings.HasPrefix(host, "172.24.") ||
		strings.HasPrefix(host, "172.25.") ||
		strings.HasPrefix(host, "172.26.") ||
		strings.HasPrefix(host, "172.27.") ||
		strings.HasPrefix(host, "172.28.") ||
		strings.HasPrefix(host, "172.29.") ||
		strings.HasPrefix(host, "172.30.") ||
		strings.HasPrefix(host, "172.31.") {
		return fmt.Errorf("webhook URL cannot point to private IP addresses")
	}

	return nil
}

// ValidateWebhookURL reports whether a webhook URL is safe to configure.
func ValidateWebhookURL(webhookURL string) error {
	return validateWebhookURL(webhookURL)
}
