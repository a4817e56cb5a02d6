package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/metrics"
	"github.com/tmater/dnswatch/internal/monitor"
	"github.com/tmater/dnswatch/internal/proto"
	"github.com/tmater/dnswatch/internal/store"
)

var testKey = proto.CheckKey{Target: "example.com", Resolver: "1.1.1.1", RecordType: proto.RecordA}

type fakeMonitor struct {
	snap  proto.Snapshot
	state monitor.State
}

func (f *fakeMonitor) Snapshot() proto.Snapshot { return f.snap }
func (f *fakeMonitor) State() monitor.State     { return f.state }
func (f *fakeMonitor) Waves() uint64            { return 7 }

type fakeHistory struct {
	anomalies []store.Anomaly
	err       error
	gotLimit  int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]store.Anomaly, error) {
	f.gotLimit = limit
	return f.anomalies, f.err
}

func newTestMonitor() *fakeMonitor {
	return &fakeMonitor{snap: proto.Snapshot{
		Targets: map[string][]proto.Entry{
			"example.com": {{
				Resolver:    "1.1.1.1",
				RecordType:  proto.RecordA,
				Success:     true,
				LatencyMs:   12.5,
				Addresses:   []string{"93.184.216.34"},
				UptimeRatio: 1,
			}},
		},
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
}

func do(t *testing.T, h http.Handler, method, target string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	m := newTestMonitor()
	h := New(m, Options{}).Routes()

	rec := do(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got proto.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(m.snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	h := New(newTestMonitor(), Options{}).Routes()
	rec := do(t, h, http.MethodPost, "/api/status", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		state    monitor.State
		wantCode int
	}{
		{monitor.Running, http.StatusOK},
		{monitor.Stopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := newTestMonitor()
			m.state = tt.state
			rec := do(t, New(m, Options{}).Routes(), http.MethodGet, "/healthz", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body struct {
				State string `json:"state"`
				Waves uint64 `json:"waves"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.State != tt.state.String() || body.Waves != 7 {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestAnomalies(t *testing.T) {
	observed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := []store.Anomaly{{
		ID:         "3f1c1a7e-0000-4000-8000-000000000001",
		Severity:   anomaly.SeverityWarning,
		Text:       "[DNS] example.com via 1.1.1.1 (A) anomaly: single failure",
		Key:        testKey,
		Error:      "SERVFAIL: example.com.",
		Addresses:  []string{},
		ObservedAt: observed,
		CreatedAt:  observed,
	}}

	t.Run("not configured", func(t *testing.T) {
		rec := do(t, New(newTestMonitor(), Options{}).Routes(), http.MethodGet, "/api/anomalies", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		hist := &fakeHistory{anomalies: want}
		rec := do(t, New(newTestMonitor(), Options{History: hist}).Routes(), http.MethodGet, "/api/anomalies", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if hist.gotLimit != defaultAnomalyLimit {
			t.Errorf("limit = %d, want %d", hist.gotLimit, defaultAnomalyLimit)
		}
		var got []store.Anomaly
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("anomalies mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("limit is capped", func(t *testing.T) {
		hist := &fakeHistory{}
		rec := do(t, New(newTestMonitor(), Options{History: hist}).Routes(), http.MethodGet, "/api/anomalies?limit=100000", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if hist.gotLimit != maxAnomalyLimit {
			t.Errorf("limit = %d, want %d", hist.gotLimit, maxAnomalyLimit)
		}
		if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
			t.Errorf("expected empty JSON array, got %s", body)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		for _, q := range []string{"0", "-1", "abc"} {
			rec := do(t, New(newTestMonitor(), Options{History: &fakeHistory{}}).Routes(), http.MethodGet, "/api/anomalies?limit="+q, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected 400, got %d", q, rec.Code)
			}
		}
	})

	t.Run("store error", func(t *testing.T) {
		hist := &fakeHistory{err: errors.New("connection refused")}
		rec := do(t, New(newTestMonitor(), Options{History: hist}).Routes(), http.MethodGet, "/api/anomalies", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)
	c.ObserveResult(proto.CheckResult{Key: testKey, Up: true, LatencyMs: 12, UptimeRatio: 1})

	rec := do(t, New(newTestMonitor(), Options{Gatherer: reg}).Routes(), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `dnswatch_probes_total{resolver="1.1.1.1",result="success",rtype="A",target="example.com"} 1`) {
		t.Errorf("probe counter missing from /metrics output:\n%s", rec.Body.String())
	}

	rec = do(t, New(newTestMonitor(), Options{}).Routes(), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a gatherer, got %d", rec.Code)
	}
}

func TestRequireUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := New(newTestMonitor(), Options{Users: map[string]string{"ops": string(hash)}}).Routes()

	tests := []struct {
		name     string
		path     string
		setup    func(*http.Request)
		wantCode int
	}{
		{"no credentials", "/api/status", nil, http.StatusUnauthorized},
		{"wrong password", "/api/status", func(r *http.Request) { r.SetBasicAuth("ops", "nope") }, http.StatusUnauthorized},
		{"unknown user", "/api/status", func(r *http.Request) { r.SetBasicAuth("root", "s3cret") }, http.StatusUnauthorized},
		{"valid", "/api/status", func(r *http.Request) { r.SetBasicAuth("ops", "s3cret") }, http.StatusOK},
		{"health is open", "/healthz", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, tt.setup)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestRequireUser_RateLimitsFailures(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := New(newTestMonitor(), Options{Users: map[string]string{"ops": string(hash)}}).Routes()
	bad := func(r *http.Request) { r.SetBasicAuth("ops", "wrong") }

	for i := 0; i < rateLimitFailures; i++ {
		if rec := do(t, h, http.MethodGet, "/api/status", bad); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/api/status", func(r *http.Request) { r.SetBasicAuth("ops", "s3cret") })
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after %d failures, got %d", rateLimitFailures, rec.Code)
	}

	// httptest requests share one RemoteAddr; another address is unaffected.
	rec = do(t, h, http.MethodGet, "/api/status", func(r *http.Request) {
		r.RemoteAddr = "198.51.100.7:4242"
		r.SetBasicAuth("ops", "s3cret")
	})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from a different address, got %d", rec.Code)
	}
}
