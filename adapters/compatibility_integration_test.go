package adapters_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-agentpay/adapters/gocommand"
	"github.com/goliatone/go-agentpay/adapters/gojob"
	"github.com/goliatone/go-agentpay/adapters/gologger"
	agentcommand "github.com/goliatone/go-agentpay/command"
	"github.com/goliatone/go-agentpay/core"
	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

// Revoking an agent through the command bus enqueues a lifecycle event that a
// queue worker delivers, retrying once after a transient dispatch failure.
func TestRuntimeCompatibility_CommandQueueWorkerLogger(t *testing.T) {
	ctx := context.Background()
	logger := &compatLogger{}
	components := gologger.NewComponents("agentpayd", &compatProvider{logger: logger}, nil)

	memQueue := &memoryQueue{}
	emitter, err := gojob.NewQueueEmitter(memQueue)
	if err != nil {
		t.Fatalf("new queue emitter: %v", err)
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	bus := gocommand.NewBus(command.NewRegistry())
	if err := bus.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := bus.Mount(gocommand.Services{Mutations: &revokingService{emitter: emitter}}); err != nil {
		t.Fatalf("mount bus: %v", err)
	}
	t.Cleanup(bus.Close)
	if _, ok := queueRegistry.Get(agentcommand.TypeRevokeAgent); !ok {
		t.Fatalf("expected revoke command mirrored into go-job queue registry")
	}

	agent, err := gocommand.Dispatch[agentcommand.RevokeAgentMessage, core.Agent](ctx, agentcommand.RevokeAgentMessage{
		AgentRef: agentcommand.AgentRef{AgentID: "ag_1", OwnerID: "owner_1"},
	})
	if err != nil {
		t.Fatalf("dispatch revoke: %v", err)
	}
	if agent.Status != core.AgentStatusRevoked {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if memQueue.len() != 1 {
		t.Fatalf("expected revocation event enqueued, got %d", memQueue.len())
	}

	dispatcher := &flakyDispatcher{failures: 1}
	worker, err := gojob.NewDispatchWorker(memQueue, dispatcher, gojob.RetryPolicy{MaxAttempts: 3},
		gojob.LoggingHook{Logger: components.For(gologger.ComponentJobs)})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if _, err := worker.ProcessNext(ctx); err == nil {
		t.Fatalf("expected first dispatch to fail")
	}
	if memQueue.len() != 1 {
		t.Fatalf("expected failed job requeued")
	}
	report, err := worker.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if report.Delivered != 1 || dispatcher.calls != 2 {
		t.Fatalf("unexpected report %+v after %d calls", report, dispatcher.calls)
	}
	if dispatcher.last.Type != core.EventAgentRevoked || dispatcher.last.Data["agent_id"] != "ag_1" {
		t.Fatalf("unexpected dispatched event %+v", dispatcher.last)
	}

	if logger.count("warn") != 1 || logger.count("info") != 1 {
		t.Fatalf("expected retry warning and success info, got %v", logger.levels)
	}
}

type revokingService struct {
	agentcommand.MutatingService
	emitter core.EventEmitter
}

func (s *revokingService) RevokeAgent(ctx context.Context, agentID string, ownerID string) (core.Agent, error) {
	agent := core.Agent{ID: agentID, OwnerID: ownerID, Status: core.AgentStatusRevoked}
	event := core.NewLifecycleEvent(core.EventAgentRevoked, map[string]any{"agent_id": agentID}, time.Time{})
	if err := s.emitter.Emit(ctx, event); err != nil {
		return core.Agent{}, err
	}
	return agent, nil
}

type flakyDispatcher struct {
	failures int
	calls    int
	last     core.LifecycleEvent
}

func (d *flakyDispatcher) Dispatch(_ context.Context, event core.LifecycleEvent) (core.DispatchReport, error) {
	d.calls++
	d.last = event
	report := core.DispatchReport{EventID: event.ID, EventType: event.Type}
	if d.failures > 0 {
		d.failures--
		return report, errors.New("subscription store unavailable")
	}
	report.Attempted, report.Delivered = 1, 1
	return report, nil
}

type memoryQueue struct {
	mu      sync.Mutex
	pending []*job.ExecutionMessage
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return nil
}

func (q *memoryQueue) Dequeue(context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, errors.New("queue empty")
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &memoryDelivery{queue: q, msg: msg}, nil
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

type memoryDelivery struct {
	queue *memoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		return d.queue.Enqueue(ctx, d.msg)
	}
	return nil
}

type compatProvider struct {
	logger *compatLogger
}

func (p *compatProvider) GetLogger(string) glog.Logger { return p.logger }

type compatLogger struct {
	mu     sync.Mutex
	levels []string
}

func (l *compatLogger) record(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, level)
}

func (l *compatLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.levels {
		if got == level {
			n++
		}
	}
	return n
}

func (l *compatLogger) Trace(string, ...any) { l.record("trace") }
func (l *compatLogger) Debug(string, ...any) { l.record("debug") }
func (l *compatLogger) Info(string, ...any)  { l.record("info") }
func (l *compatLogger) Warn(string, ...any)  { l.record("warn") }
func (l *compatLogger) Error(string, ...any) { l.record("error") }
func (l *compatLogger) Fatal(string, ...any) { l.record("fatal") }

func (l *compatLogger) WithContext(context.Context) glog.Logger { return l }
