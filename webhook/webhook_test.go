package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/webhook"
)

type notification struct {
	UserID string `json:"user_id"`
}

type recorder struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	bodies   []notification
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var n notification
	_ = json.NewDecoder(req.Body).Decode(&n)
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, n)
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func element() txqueue.Element[notification] {
	return txqueue.NewElement(42, time.Unix(0, 0), time.Unix(0, 0), 2, notification{UserID: "u-1"})
}

func TestConsumePostsPayload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := webhook.NewConsumer[notification](srv.URL)
	if err := c.Consume(context.Background(), element()); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	if len(rec.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(rec.requests))
	}
	req := rec.requests[0]
	if got := req.Header.Get(webhook.HeaderElementID); got != "42" {
		t.Fatalf("%s = %q, want 42", webhook.HeaderElementID, got)
	}
	if got := req.Header.Get(webhook.HeaderDispatchCount); got != "2" {
		t.Fatalf("%s = %q, want 2", webhook.HeaderDispatchCount, got)
	}
	if got := req.Header.Get(webhook.HeaderDeadLetter); got != "" {
		t.Fatalf("%s = %q, want empty", webhook.HeaderDeadLetter, got)
	}
	if rec.bodies[0].UserID != "u-1" {
		t.Fatalf("body = %+v", rec.bodies[0])
	}
}

func TestConsumeFailsOnErrorStatus(t *testing.T) {
	rec := &recorder{status: http.StatusBadGateway}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := webhook.NewConsumer[notification](srv.URL)
	if err := c.Consume(context.Background(), element()); err == nil {
		t.Fatal("Consume() error = nil, want error")
	}
}

func TestConsumeFallback(t *testing.T) {
	primary := &recorder{}
	fallback := &recorder{}
	primarySrv := httptest.NewServer(primary)
	defer primarySrv.Close()
	fallbackSrv := httptest.NewServer(fallback)
	defer fallbackSrv.Close()

	withoutURL := webhook.NewConsumer[notification](primarySrv.URL)
	if err := withoutURL.ConsumeFallback(context.Background(), element()); err != nil {
		t.Fatalf("ConsumeFallback() error = %v", err)
	}
	if len(primary.requests) != 0 {
		t.Fatalf("primary requests = %d, want 0", len(primary.requests))
	}

	withURL := webhook.NewConsumer[notification](primarySrv.URL, webhook.WithFallbackURL(fallbackSrv.URL))
	if err := withURL.ConsumeFallback(context.Background(), element()); err != nil {
		t.Fatalf("ConsumeFallback() error = %v", err)
	}
	if len(fallback.requests) != 1 {
		t.Fatalf("fallback requests = %d, want 1", len(fallback.requests))
	}
	if got := fallback.requests[0].Header.Get(webhook.HeaderDeadLetter); got != "true" {
		t.Fatalf("%s = %q, want true", webhook.HeaderDeadLetter, got)
	}
}
