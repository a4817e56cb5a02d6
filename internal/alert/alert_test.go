package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/metrics"
	"github.com/tmater/dnswatch/internal/proto"
)

type fakeSink struct {
	name  string
	err   error
	panic bool
	block chan struct{}

	mu     sync.Mutex
	events []Event
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, ev Event) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

var payload = proto.CheckResult{Key: proto.CheckKey{Target: "example.com", Resolver: "1.1.1.1", RecordType: proto.RecordA}}

func closeAlerter(t *testing.T, a *Alerter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAlert_DeliversToEverySink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ok := &fakeSink{name: "ok"}
	failing := &fakeSink{name: "failing", err: errors.New("connection refused")}
	a := New([]Sink{ok, failing}, Options{Metrics: m})

	a.Alert("[DNS] example.com via 1.1.1.1 (A) anomaly: single failure", anomaly.SeverityWarning, payload)
	closeAlerter(t, a)

	if ok.count() != 1 || failing.count() != 1 {
		t.Fatalf("deliveries ok=%d failing=%d, want 1 each", ok.count(), failing.count())
	}
	ev := ok.events[0]
	if ev.ID == "" || ev.Severity != anomaly.SeverityWarning || ev.Payload.Key != payload.Key {
		t.Errorf("unexpected event %+v", ev)
	}
	if n, err := testutil.GatherAndCount(reg, "dnswatch_alerts_total"); err != nil || n != 2 {
		t.Errorf("alerts_total series = %d, want 2 (delivered and failed)", n)
	}
}

func TestAlert_NeverBlocks(t *testing.T) {
	slow := &fakeSink{name: "slow", block: make(chan struct{})}
	a := New([]Sink{slow}, Options{MaxInFlight: 2, Timeout: time.Minute})

	start := time.Now()
	for i := 0; i < 10; i++ {
		a.Alert("spike", anomaly.SeverityWarning, payload)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Alert blocked for %s", elapsed)
	}

	close(slow.block)
	closeAlerter(t, a)
	if got := slow.count(); got != 2 {
		t.Errorf("delivered %d alerts, want 2 (the rest dropped)", got)
	}
}

func TestAlert_SwallowsPanics(t *testing.T) {
	a := New([]Sink{&fakeSink{name: "panicky", panic: true}}, Options{})
	a.Alert("x", anomaly.SeverityWarning, payload)
	closeAlerter(t, a)
}

func TestAlert_AfterCloseIsDropped(t *testing.T) {
	s := &fakeSink{name: "s"}
	a := New([]Sink{s}, Options{})
	closeAlerter(t, a)
	a.Alert("late", anomaly.SeverityWarning, payload)
	if s.count() != 0 {
		t.Errorf("sink received %d alerts after Close", s.count())
	}
}

func TestAlert_NoSinks(t *testing.T) {
	a := New(nil, Options{})
	a.Alert("logged only", anomaly.SeverityCritical, payload)
	closeAlerter(t, a)
}

func TestClose_RespectsContext(t *testing.T) {
	stuck := &fakeSink{name: "stuck", block: make(chan struct{})}
	defer close(stuck.block)
	a := New([]Sink{stuck}, Options{Timeout: time.Minute})
	a.Alert("x", anomaly.SeverityWarning, payload)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() = %v, want context.DeadlineExceeded", err)
	}
}
