package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goliatone/go-agentpay/core"
)

func TestSender_Notify(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		mu.Lock()
		seen[key]++
		count := seen[key]
		mu.Unlock()
		if count > 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"msg_1"}`))
	}))
	defer server.Close()

	sender, err := New(Config{BaseURL: server.URL}, server.Client(), nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	req := core.NotificationRequest{UserID: "owner_1", Type: "step_up_requested", IdempotencyKey: "su_1"}

	first, err := sender.Notify(context.Background(), req)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !first.Delivered || first.Replayed || first.MessageID != "msg_1" {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := sender.Notify(context.Background(), req)
	if err != nil {
		t.Fatalf("notify replay: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replay on duplicate key, got %+v", second)
	}
}

func TestSender_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := New(Config{BaseURL: server.URL}, server.Client(), nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if _, err := sender.Notify(context.Background(), core.NotificationRequest{UserID: "owner_1"}); err == nil {
		t.Fatalf("expected gateway failure")
	}
	if _, err := sender.Notify(context.Background(), core.NotificationRequest{}); err == nil {
		t.Fatalf("expected missing user rejected")
	}
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatalf("expected missing base url rejected")
	}
}
