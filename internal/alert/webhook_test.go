package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/proto"
)

func TestFire(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %s", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := Event{
		ID:       "0b7f6a8e-5f0c-4c59-9a53-1f3c0d7e2a11",
		Severity: anomaly.SeverityCritical,
		Text:     "[DNS] example.com via 1.1.1.1 (A) anomaly: " + anomaly.ReasonRepeatedFailures,
		Payload: proto.CheckResult{
			Key:         proto.CheckKey{Target: "example.com", Resolver: "1.1.1.1", RecordType: proto.RecordA},
			Error:       "SERVFAIL: example.com.",
			UptimeRatio: 0.8,
		},
	}

	if err := Fire(context.Background(), http.DefaultClient, srv.URL, ev); err != nil {
		t.Fatalf("Fire returned error: %s", err)
	}

	if received.ID != ev.ID {
		t.Errorf("id: got %q, want %q", received.ID, ev.ID)
	}
	if received.Text != ev.Text {
		t.Errorf("text: got %q, want %q", received.Text, ev.Text)
	}
	if received.Payload.Key != ev.Payload.Key || received.Payload.UptimeRatio != 0.8 {
		t.Errorf("payload: got %+v, want %+v", received.Payload, ev.Payload)
	}
}

func TestFire_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Fire(context.Background(), http.DefaultClient, srv.URL, Event{Text: "x"})
	if err == nil {
		t.Fatal("expected error for non-2xx response, got nil")
	}
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wh := NewWebhook(srv.URL, 50*time.Millisecond)
	start := time.Now()
	if err := wh.Deliver(context.Background(), Event{Text: "x"}); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Deliver took %s, want it bounded by the timeout", elapsed)
	}
}
