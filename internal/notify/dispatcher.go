// Package notify delivers score-change webhooks after a scoring pass.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agenttrust/backend/internal/scoring"
	"github.com/agenttrust/backend/internal/store"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_deliveries_total",
	Help: "Webhook delivery outcomes.",
}, []string{"outcome"})

const deliverAttempts = 3

// baseBackoff is shortened in tests.
var baseBackoff = time.Second

// WebhookStore is the store surface the dispatcher needs.
type WebhookStore interface {
	ActiveWebhooks(ctx context.Context) ([]store.Webhook, error)
	MarkWebhookSuccess(ctx context.Context, id string) error
	MarkWebhookFailure(ctx context.Context, id string) (bool, error)
}

// Payload is the JSON body POSTed to subscribers. Receivers dedupe on
// (address, timestamp) since delivery is at-least-once.
type Payload struct {
	Event     string    `json:"event"`
	Address   string    `json:"address"`
	OldScore  *int      `json:"old_score"`
	NewScore  int       `json:"new_score"`
	Tier      string    `json:"tier"`
	Threshold *int      `json:"threshold,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher matches score deltas against registered webhooks and
// delivers the matches.
type Dispatcher struct {
	webhooks   WebhookStore
	httpClient *http.Client
	logger     *log.Logger
}

func NewDispatcher(webhooks WebhookStore) *Dispatcher {
	return &Dispatcher{
		webhooks: webhooks,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// Dispatch runs one pass over the deltas. Delivery failures never abort
// the pass; a webhook that keeps failing is disabled by the store once it
// crosses the consecutive-failure threshold.
func (d *Dispatcher) Dispatch(ctx context.Context, deltas []scoring.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	hooks, err := d.webhooks.ActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	now := time.Now().UTC()
	matched, delivered := 0, 0
	for _, delta := range deltas {
		for i := range hooks {
			hook := &hooks[i]
			if !Matches(hook, delta) {
				continue
			}
			matched++

			payload := Payload{
				Event:     hook.EventType,
				Address:   delta.Address,
				OldScore:  delta.Old,
				NewScore:  delta.New,
				Tier:      delta.Tier,
				Threshold: hook.Threshold,
				Timestamp: now,
			}
			if d.deliver(ctx, hook, payload) {
				delivered++
				deliveries.WithLabelValues("delivered").Inc()
				if err := d.webhooks.MarkWebhookSuccess(ctx, hook.ID); err != nil {
					d.logger.Printf("⚠️ success mark for webhook %s failed: %v", hook.ID, err)
				}
				continue
			}

			deliveries.WithLabelValues("failed").Inc()
			active, err := d.webhooks.MarkWebhookFailure(ctx, hook.ID)
			if err != nil {
				d.logger.Printf("⚠️ failure mark for webhook %s failed: %v", hook.ID, err)
			} else if !active {
				hook.IsActive = false
				d.logger.Printf("🛑 webhook %s disabled after repeated failures", hook.ID)
			}
		}
	}

	d.logger.Printf("📊 dispatch pass: %d deltas, %d matches, %d delivered", len(deltas), matched, delivered)
	return nil
}

// Matches reports whether one webhook subscribes to one delta. Drops and
// rises need a prior score; a threshold additionally requires the old and
// new scores to sit on opposite sides of it in the event's direction.
func Matches(hook *store.Webhook, delta scoring.Delta) bool {
	if !hook.IsActive {
		return false
	}
	if hook.WalletAddress != nil && *hook.WalletAddress != delta.Address {
		return false
	}

	old := delta.Old
	switch hook.EventType {
	case store.EventScoreDrop:
		if old == nil || delta.New >= *old {
			return false
		}
		if hook.Threshold != nil && !(*old >= *hook.Threshold && delta.New < *hook.Threshold) {
			return false
		}
	case store.EventScoreRise:
		if old == nil || delta.New <= *old {
			return false
		}
		if hook.Threshold != nil && !(*old < *hook.Threshold && delta.New >= *hook.Threshold) {
			return false
		}
	case store.EventScoreChange:
		if old != nil && delta.New == *old {
			return false
		}
		if old != nil && hook.Threshold != nil {
			t := *hook.Threshold
			crossedDown := *old >= t && delta.New < t
			crossedUp := *old < t && delta.New >= t
			if !crossedDown && !crossedUp {
				return false
			}
		}
	default:
		return false
	}
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, hook *store.Webhook, payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Printf("❌ marshal payload for webhook %s: %v", hook.ID, err)
		return false
	}

	for attempt := 1; attempt <= deliverAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(baseBackoff << (attempt - 2)):
			case <-ctx.Done():
				return false
			}
		}

		if d.post(ctx, hook, body, attempt) {
			d.logger.Printf("✅ delivered %s for %s → %s", payload.Event, payload.Address, hook.URL)
			return true
		}
	}
	d.logger.Printf("❌ webhook %s exhausted %d attempts: %s", hook.ID, deliverAttempts, hook.URL)
	return false
}

func (d *Dispatcher) post(ctx context.Context, hook *store.Webhook, body []byte, attempt int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Printf("❌ build request for webhook %s: %v", hook.ID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trust-Event", hook.EventType)
	req.Header.Set("X-Trust-Delivery-Attempt", fmt.Sprintf("%d", attempt))
	if hook.Secret != "" {
		req.Header.Set("X-Trust-Signature", "sha256="+SignPayload(body, hook.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Printf("⚠️ webhook post failed: %s → %v", hook.URL, err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SignPayload creates the HMAC-SHA256 signature subscribers verify.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
