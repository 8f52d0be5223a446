// Package notify dispatches draft and dashboard lifecycle events to a
// configured webhook.
//
// Delivery is fire-and-forget: a failed webhook is logged and dropped,
// never surfaced to the request that triggered it. The built-in driver
// posts JSON with optional HMAC-SHA256 body signing; alternate
// transports implement contracts.NotificationDriver.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/config"
	"github.com/glassboard/glassboard/console-engine/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventDraftAccepted     EventType = "draft_accepted"
	EventDraftRejected     EventType = "draft_rejected"
	EventDraftApplied      EventType = "draft_applied"
	EventDashboardReloaded EventType = "dashboard_reloaded"
)

// Event is the notification payload. It maps 1:1 to
// contracts.NotificationEvent.
type Event = contracts.NotificationEvent

// NewEvent creates an Event with the given type and fields.
func NewEvent(eventType EventType, workspace, scope string, payload map[string]interface{}) Event {
	return Event{
		Type:      string(eventType),
		Workspace: workspace,
		Scope:     scope,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ── Service ──────────────────────────────────────────────────

// Service dispatches lifecycle events to the configured webhook target.
type Service struct {
	cfg    config.NotifyConfig
	driver contracts.NotificationDriver
}

// NewService creates a notification service with the built-in webhook
// driver. An empty webhook URL disables dispatch entirely.
func NewService(cfg config.NotifyConfig) *Service {
	return &Service{
		cfg: cfg,
		driver: &WebhookDriver{
			client: &http.Client{Timeout: 15 * time.Second},
		},
	}
}

// SetDriver replaces the delivery driver.
func (s *Service) SetDriver(driver contracts.NotificationDriver) {
	s.driver = driver
	log.Info().Str("driver", driver.Name()).Msg("Notification driver registered")
}

// Enabled reports whether a webhook target is configured.
func (s *Service) Enabled() bool {
	return s.cfg.WebhookURL != ""
}

// Dispatch delivers the event asynchronously if webhooks are enabled
// and the event type passes the configured filter.
func (s *Service) Dispatch(event Event) {
	if !s.Enabled() || !s.subscribes(event.Type) {
		return
	}

	target := contracts.WebhookTarget{URL: s.cfg.WebhookURL, Secret: s.cfg.Secret}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := s.driver.Send(ctx, target, event); err != nil {
			log.Warn().
				Err(err).
				Str("event", event.Type).
				Str("workspace", event.Workspace).
				Msg("Lifecycle notification failed")
			return
		}
		log.Info().
			Str("event", event.Type).
			Str("workspace", event.Workspace).
			Str("scope", event.Scope).
			Msg("Lifecycle notification dispatched")
	}()
}

// subscribes checks the event filter. An empty filter means all events.
func (s *Service) subscribes(eventType string) bool {
	if len(s.cfg.Events) == 0 {
		return true
	}
	for _, e := range s.cfg.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// ── Webhook Driver (built-in) ────────────────────────────────

// WebhookDriver sends events via HTTP POST with optional HMAC-SHA256
// body signing.
type WebhookDriver struct {
	client *http.Client
}

// Name returns "webhook".
func (d *WebhookDriver) Name() string { return "webhook" }

// Send posts the event as JSON to the target URL, retrying up to 3
// times with backoff. The request is rebuilt per attempt so the body
// is never replayed from a drained reader.
func (d *WebhookDriver) Send(ctx context.Context, target contracts.WebhookTarget, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Glassboard-Webhook/1.0")
		req.Header.Set("X-Glassboard-Event", event.Type)
		req.Header.Set("X-Glassboard-Workspace", event.Workspace)
		if target.Secret != "" {
			req.Header.Set("X-Glassboard-Signature", "sha256="+sign(target.Secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, target.URL)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
