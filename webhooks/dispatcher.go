package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-agentpay/core"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultConcurrency     = 8

	maxLoggedResponseBytes = 512
)

type payload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Dispatcher fans a lifecycle event out to every enabled subscriber of its
// type. Deliveries are attempted once.
type Dispatcher struct {
	Subscriptions core.WebhookSubscriptionStore
	Logs          core.DeliveryLogStore
	Secrets       core.SecretProvider
	Client        *http.Client
	Logger        glog.Logger
	Timeout       time.Duration
	Concurrency   int
	Now           func() time.Time
}

func NewDispatcher(subscriptions core.WebhookSubscriptionStore, logs core.DeliveryLogStore, secrets core.SecretProvider) *Dispatcher {
	return &Dispatcher{
		Subscriptions: subscriptions,
		Logs:          logs,
		Secrets:       secrets,
		Client:        &http.Client{},
		Logger:        glog.Nop(),
		Timeout:       DefaultDeliveryTimeout,
		Concurrency:   DefaultConcurrency,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event core.LifecycleEvent) (core.DispatchReport, error) {
	report := core.DispatchReport{EventID: event.ID, EventType: event.Type}
	if d == nil || d.Subscriptions == nil {
		return report, fmt.Errorf("webhooks: dispatcher requires a subscription store")
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return report, fmt.Errorf("webhooks: event type is required")
	}
	subscribers, err := d.Subscriptions.ListEnabled(ctx, eventType)
	if err != nil {
		return report, fmt.Errorf("webhooks: list subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return report, nil
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = d.now()
	}
	body, err := json.Marshal(payload{
		Event:     eventType,
		Timestamp: occurredAt.UTC().Format(time.RFC3339),
		Data:      ensureData(event.Data),
	})
	if err != nil {
		return report, fmt.Errorf("webhooks: encode payload: %w", err)
	}

	var delivered, failed atomic.Int64
	var group errgroup.Group
	group.SetLimit(d.concurrency())
	for _, sub := range subscribers {
		group.Go(func() error {
			if d.deliver(ctx, sub, event, body) {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	report.Attempted = len(subscribers)
	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	return report, nil
}

// deliver posts one signed copy of body and logs the attempt.
func (d *Dispatcher) deliver(ctx context.Context, sub core.WebhookSubscription, event core.LifecycleEvent, body []byte) bool {
	startedAt := d.now()
	entry := core.DeliveryLog{
		WebhookID:   sub.ID,
		EventID:     event.ID,
		EventType:   event.Type,
		AttemptedAt: startedAt,
	}

	statusCode, err := d.post(ctx, sub, body)
	entry.StatusCode = statusCode
	entry.DurationMs = d.now().Sub(startedAt).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	}
	ok := err == nil && statusCode >= 200 && statusCode < 300

	if d.Logs != nil {
		if logErr := d.Logs.Append(context.WithoutCancel(ctx), entry); logErr != nil {
			d.logger().Warn("webhook delivery log append failed",
				"webhook_id", sub.ID, "event_id", event.ID, "error", logErr.Error())
		}
	}
	if !ok {
		d.logger().Warn("webhook delivery failed",
			"webhook_id", sub.ID, "merchant_id", sub.MerchantID, "event", event.Type,
			"status_code", statusCode, "error", entry.Error)
	}
	return ok
}

func (d *Dispatcher) post(ctx context.Context, sub core.WebhookSubscription, body []byte) (int, error) {
	secret, err := core.OpenWebhookSecret(ctx, d.Secrets, sub.Secret)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhooks: build request: %w", err)
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(SignatureHeader, Sign(secret, timestamp, body))

	resp, err := d.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhooks: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponseBytes))
		return resp.StatusCode, fmt.Errorf("webhooks: receiver returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoggedResponseBytes))
	return resp.StatusCode, nil
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) timeout() time.Duration {
	if d != nil && d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultDeliveryTimeout
}

func (d *Dispatcher) concurrency() int {
	if d != nil && d.Concurrency > 0 {
		return d.Concurrency
	}
	return DefaultConcurrency
}

func (d *Dispatcher) client() *http.Client {
	if d != nil && d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Dispatcher) logger() glog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return glog.Nop()
}

func ensureData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	return data
}

var _ core.WebhookDispatcher = (*Dispatcher)(nil)
