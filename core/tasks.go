package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTaskRunnerConcurrency = 16

var ErrTaskRunnerSaturated = errors.New("core: task runner saturated")

type TaskOutcome struct {
	Name     string
	Err      error
	Duration time.Duration
}

// BoundedTaskRunner runs fire-and-forget work with a concurrency ceiling and
// reports every outcome to OnComplete. Submit never blocks the caller.
type BoundedTaskRunner struct {
	slots      chan struct{}
	wg         sync.WaitGroup
	OnComplete func(ctx context.Context, outcome TaskOutcome)
}

func NewBoundedTaskRunner(concurrency int) *BoundedTaskRunner {
	if concurrency <= 0 {
		concurrency = defaultTaskRunnerConcurrency
	}
	return &BoundedTaskRunner{slots: make(chan struct{}, concurrency)}
}

// Submit detaches task from the caller's cancellation while keeping its
// values, so request scoped loggers still apply.
func (r *BoundedTaskRunner) Submit(ctx context.Context, name string, task func(ctx context.Context) error) error {
	if r == nil {
		return fmt.Errorf("core: task runner is not configured")
	}
	if task == nil {
		return fmt.Errorf("core: task is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r.slots <- struct{}{}:
	default:
		return fmt.Errorf("%w: %s", ErrTaskRunnerSaturated, name)
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		startedAt := time.Now()
		err := runTask(detached, task)
		if r.OnComplete != nil {
			r.OnComplete(detached, TaskOutcome{Name: name, Err: err, Duration: time.Since(startedAt)})
		}
	}()
	return nil
}

// Wait blocks until all submitted tasks finish.
func (r *BoundedTaskRunner) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func runTask(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: task panicked: %v", recovered)
		}
	}()
	return task(ctx)
}

// DispatchEmitter hands lifecycle events to a WebhookDispatcher on a bounded
// task runner.
type DispatchEmitter struct {
	dispatcher WebhookDispatcher
	runner     *BoundedTaskRunner
}

func NewDispatchEmitter(dispatcher WebhookDispatcher, runner *BoundedTaskRunner) (*DispatchEmitter, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("core: webhook dispatcher is required")
	}
	if runner == nil {
		runner = NewBoundedTaskRunner(defaultTaskRunnerConcurrency)
	}
	return &DispatchEmitter{dispatcher: dispatcher, runner: runner}, nil
}

func (e *DispatchEmitter) Emit(ctx context.Context, event LifecycleEvent) error {
	if e == nil {
		return fmt.Errorf("core: dispatch emitter is not configured")
	}
	return e.runner.Submit(ctx, "dispatch:"+event.Type, func(ctx context.Context) error {
		report, err := e.dispatcher.Dispatch(ctx, event)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("core: %d of %d deliveries failed for %s", report.Failed, report.Attempted, event.Type)
		}
		return nil
	})
}

func (e *DispatchEmitter) Runner() *BoundedTaskRunner {
	if e == nil {
		return nil
	}
	return e.runner
}

func NewLifecycleEvent(eventType string, data map[string]any, occurredAt time.Time) LifecycleEvent {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return LifecycleEvent{
		ID:         uuid.NewString(),
		Type:       strings.TrimSpace(eventType),
		Data:       copyAnyMap(data),
		OccurredAt: occurredAt.UTC(),
	}
}

// emit never fails the triggering operation.
func (s *Service) emit(ctx context.Context, eventType string, data map[string]any) {
	if s == nil || s.emitter == nil {
		return
	}
	event := NewLifecycleEvent(eventType, data, s.now())
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.recordCounter(ctx, metricPrefix+"events.emit_failed.total", 1, map[string]string{"event": eventType})
		s.logError(ctx, "lifecycle event emit failed", map[string]any{
			"event":    eventType,
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
}

func (s *Service) observeTask(ctx context.Context, outcome TaskOutcome) {
	status := "success"
	if outcome.Err != nil {
		status = "failure"
	}
	tags := map[string]string{"task": outcome.Name, "status": status}
	s.recordCounter(ctx, metricPrefix+"tasks.total", 1, tags)
	s.recordHistogram(ctx, metricPrefix+"tasks.duration_ms", float64(outcome.Duration.Milliseconds()), tags)
	if outcome.Err != nil {
		s.logError(ctx, "background task failed", map[string]any{
			"task":  outcome.Name,
			"error": outcome.Err.Error(),
		})
	}
}
