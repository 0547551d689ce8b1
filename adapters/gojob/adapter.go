package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-agentpay/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDWebhookDispatch = "agentpay.webhook.dispatch"

	paramEventID    = "event_id"
	paramEventType  = "event_type"
	paramOccurredAt = "occurred_at"
	paramData       = "data"
)

var ErrMalformedEvent = errors.New("gojob: malformed webhook dispatch message")

// RetryPolicy bounds redelivery of a dispatch job. Only failures that
// happen before any receiver is contacted are nacked for retry; receiver
// deliveries themselves are never repeated.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NackFor returns the nack options for a failed attempt.
func (p RetryPolicy) NackFor(attempt int, reason string) queue.NackOptions {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	opts := queue.NackOptions{
		Delay:   delay,
		Requeue: true,
		Reason:  strings.TrimSpace(reason),
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		opts.Requeue = false
		opts.Delay = 0
		opts.DeadLetter = p.DeadLetterOnMax
	}
	return opts
}

// EventMessage encodes a lifecycle event as a dispatch job. The event id is
// the idempotency key so a duplicate enqueue is collapsed by the queue.
func EventMessage(event core.LifecycleEvent) *job.ExecutionMessage {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	data := make(map[string]any, len(event.Data))
	for key, value := range event.Data {
		data[key] = value
	}
	return &job.ExecutionMessage{
		JobID:      JobIDWebhookDispatch,
		ScriptPath: JobIDWebhookDispatch,
		Parameters: map[string]any{
			paramEventID:    event.ID,
			paramEventType:  event.Type,
			paramOccurredAt: occurredAt.UTC().Format(time.RFC3339Nano),
			paramData:       data,
		},
		IdempotencyKey: event.ID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// EventFromMessage decodes a dispatch job produced by EventMessage.
func EventFromMessage(msg *job.ExecutionMessage) (core.LifecycleEvent, error) {
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDWebhookDispatch {
		return core.LifecycleEvent{}, ErrMalformedEvent
	}
	eventType, _ := msg.Parameters[paramEventType].(string)
	if strings.TrimSpace(eventType) == "" {
		return core.LifecycleEvent{}, fmt.Errorf("%w: event type is missing", ErrMalformedEvent)
	}
	event := core.LifecycleEvent{Type: strings.TrimSpace(eventType)}
	event.ID, _ = msg.Parameters[paramEventID].(string)
	if raw, ok := msg.Parameters[paramOccurredAt].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			event.OccurredAt = parsed.UTC()
		}
	}
	if data, ok := msg.Parameters[paramData].(map[string]any); ok {
		event.Data = data
	}
	return event, nil
}

// QueueEmitter publishes lifecycle events to a go-job queue instead of
// dispatching them in process.
type QueueEmitter struct {
	enqueuer queue.Enqueuer
}

func NewQueueEmitter(enqueuer queue.Enqueuer) (*QueueEmitter, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	return &QueueEmitter{enqueuer: enqueuer}, nil
}

func (e *QueueEmitter) Emit(ctx context.Context, event core.LifecycleEvent) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("gojob: event type is required")
	}
	return e.enqueuer.Enqueue(ctx, EventMessage(event))
}

// DispatchWorker drains dispatch jobs into a webhook dispatcher.
type DispatchWorker struct {
	dequeuer   queue.Dequeuer
	dispatcher core.WebhookDispatcher
	policy     RetryPolicy
	hook       worker.Hook
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewDispatchWorker(dequeuer queue.Dequeuer, dispatcher core.WebhookDispatcher, policy RetryPolicy, hook worker.Hook) (*DispatchWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: webhook dispatcher is required")
	}
	return &DispatchWorker{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		policy:     policy,
		hook:       hook,
		attempts:   map[string]int{},
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProcessNext handles one delivery. Malformed messages are dead-lettered,
// dispatch failures are nacked under the retry policy.
func (w *DispatchWorker) ProcessNext(ctx context.Context) (core.DispatchReport, error) {
	if w == nil {
		return core.DispatchReport{}, fmt.Errorf("gojob: worker is nil")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.DispatchReport{}, err
	}
	if delivery == nil {
		return core.DispatchReport{}, fmt.Errorf("gojob: dequeue returned no delivery")
	}
	msg := delivery.Message()
	startedAt := w.now()

	event, err := EventFromMessage(msg)
	if err != nil {
		w.notify(ctx, phaseFailure, worker.Event{Message: msg, Delivery: delivery, Attempt: 1, Err: err, StartedAt: startedAt})
		nackErr := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
		return core.DispatchReport{}, errors.Join(err, nackErr)
	}

	key := event.ID
	attempt := w.nextAttempt(key)
	w.notify(ctx, phaseStart, worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt})

	report, err := w.dispatcher.Dispatch(ctx, event)
	duration := w.now().Sub(startedAt)
	if err != nil {
		opts := w.policy.NackFor(attempt, err.Error())
		if opts.Requeue {
			w.notify(ctx, phaseRetry, worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, Delay: opts.Delay, Err: err, StartedAt: startedAt, Duration: duration})
		} else {
			w.forget(key)
			w.notify(ctx, phaseFailure, worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, Err: err, StartedAt: startedAt, Duration: duration})
		}
		return report, errors.Join(err, delivery.Nack(ctx, opts))
	}

	w.forget(key)
	w.notify(ctx, phaseSuccess, worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt, Duration: duration})
	return report, delivery.Ack(ctx)
}

// Run processes deliveries until ctx is cancelled.
func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := w.ProcessNext(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

type hookPhase int

const (
	phaseStart hookPhase = iota
	phaseSuccess
	phaseFailure
	phaseRetry
)

func (w *DispatchWorker) notify(ctx context.Context, phase hookPhase, event worker.Event) {
	if w.hook == nil {
		return
	}
	switch phase {
	case phaseStart:
		w.hook.OnStart(ctx, event)
	case phaseSuccess:
		w.hook.OnSuccess(ctx, event)
	case phaseFailure:
		w.hook.OnFailure(ctx, event)
	case phaseRetry:
		w.hook.OnRetry(ctx, event)
	}
}

func (w *DispatchWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *DispatchWorker) forget(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

// LoggingHook reports worker lifecycle through a glog logger.
type LoggingHook struct {
	Logger glog.Logger
}

func (h LoggingHook) OnStart(context.Context, worker.Event) {}

func (h LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger().Info("webhook dispatch job succeeded", eventFields(event)...)
}

func (h LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger().Error("webhook dispatch job failed", eventFields(event)...)
}

func (h LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger().Warn("webhook dispatch job retrying", eventFields(event)...)
}

func (h LoggingHook) logger() glog.Logger {
	if h.Logger == nil {
		return glog.Nop()
	}
	return h.Logger
}

func eventFields(event worker.Event) []any {
	fields := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		fields = append(fields, "job_id", event.Message.JobID, "idempotency_key", event.Message.IdempotencyKey)
	}
	if event.Delay > 0 {
		fields = append(fields, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var (
	_ core.EventEmitter = (*QueueEmitter)(nil)
	_ worker.Hook       = LoggingHook{}
)
