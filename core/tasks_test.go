package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []LifecycleEvent
	report DispatchReport
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event LifecycleEvent) (DispatchReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.report, d.err
}

func (d *recordingDispatcher) dispatched() []LifecycleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LifecycleEvent(nil), d.events...)
}

func TestBoundedTaskRunner_RejectsWhenSaturated(t *testing.T) {
	runner := NewBoundedTaskRunner(1)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := runner.Submit(context.Background(), "blocking", func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("submit blocking task: %v", err)
	}
	<-started

	err := runner.Submit(context.Background(), "overflow", func(context.Context) error { return nil })
	if !errors.Is(err, ErrTaskRunnerSaturated) {
		t.Fatalf("expected saturation error, got %v", err)
	}
	close(release)
	runner.Wait()

	if err := runner.Submit(context.Background(), "after", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected slot released after completion, got %v", err)
	}
	runner.Wait()
}

func TestBoundedTaskRunner_RecoversPanicsAndDetachesCancellation(t *testing.T) {
	runner := NewBoundedTaskRunner(2)
	var mu sync.Mutex
	outcomes := map[string]TaskOutcome{}
	runner.OnComplete = func(_ context.Context, outcome TaskOutcome) {
		mu.Lock()
		outcomes[outcome.Name] = outcome
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Submit(ctx, "detached", func(ctx context.Context) error { return ctx.Err() }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := runner.Submit(context.Background(), "panics", func(context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	runner.Wait()

	mu.Lock()
	defer mu.Unlock()
	if outcomes["detached"].Err != nil {
		t.Fatalf("expected task to outlive caller cancellation, got %v", outcomes["detached"].Err)
	}
	if err := outcomes["panics"].Err; err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestDispatchEmitter_ReportsFailedDeliveries(t *testing.T) {
	dispatcher := &recordingDispatcher{report: DispatchReport{Attempted: 2, Delivered: 1, Failed: 1}}
	runner := NewBoundedTaskRunner(1)
	var outcome TaskOutcome
	runner.OnComplete = func(_ context.Context, got TaskOutcome) { outcome = got }

	emitter, err := NewDispatchEmitter(dispatcher, runner)
	if err != nil {
		t.Fatalf("new dispatch emitter: %v", err)
	}
	if err := emitter.Emit(context.Background(), NewLifecycleEvent(EventAgentRevoked, map[string]any{"agent_id": "a1"}, fixtureNow)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	runner.Wait()

	if outcome.Name != "dispatch:"+EventAgentRevoked || outcome.Err == nil {
		t.Fatalf("expected failed dispatch outcome, got %+v", outcome)
	}
	if _, err := NewDispatchEmitter(nil, nil); err == nil {
		t.Fatalf("expected missing dispatcher rejected")
	}
}

func TestService_DispatchesEventsThroughWebhookDispatcher(t *testing.T) {
	dispatcher := &recordingDispatcher{report: DispatchReport{Attempted: 1, Delivered: 1}}
	fixture := newServiceFixture(t, WithEventEmitter(nil), WithWebhookDispatcher(dispatcher))
	creds := fixture.seedAgent(t, SpendingLimits{PerTransaction: 5000, Daily: 20000, Monthly: 100000})

	if _, err := fixture.svc.RevokeAgent(context.Background(), creds.Agent.ID, "owner_1"); err != nil {
		t.Fatalf("revoke agent: %v", err)
	}
	fixture.svc.Wait()

	events := dispatcher.dispatched()
	if len(events) != 1 || events[0].Type != EventAgentRevoked || events[0].Data["agent_id"] != creds.Agent.ID {
		t.Fatalf("expected agent.revoked dispatched, got %+v", events)
	}
	if !events[0].OccurredAt.Equal(fixtureNow) {
		t.Fatalf("expected event time from service clock, got %s", events[0].OccurredAt)
	}
}
