package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tmater/dnswatch/internal/proto"
)

func TestCollector_ObserveResult(t *testing.T) {
	c := New(prometheus.NewRegistry())
	key := proto.CheckKey{Target: "example.com", Resolver: "1.1.1.1", RecordType: proto.RecordA}

	c.ObserveResult(proto.CheckResult{Key: key, Up: true, LatencyMs: 20, UptimeRatio: 1})
	c.ObserveResult(proto.CheckResult{Key: key, Up: false, LatencyMs: 3000, UptimeRatio: 0.5, ZScore: 2.5})

	if got := testutil.ToFloat64(c.probes.WithLabelValues("example.com", "1.1.1.1", "A", "success")); got != 1 {
		t.Errorf("success probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.probes.WithLabelValues("example.com", "1.1.1.1", "A", "failure")); got != 1 {
		t.Errorf("failure probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.up.WithLabelValues("example.com", "1.1.1.1", "A")); got != 0 {
		t.Errorf("probe_up = %v, want 0 after failure", got)
	}
	if got := testutil.ToFloat64(c.uptime.WithLabelValues("example.com", "1.1.1.1", "A")); got != 0.5 {
		t.Errorf("uptime_ratio = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(c.zscore.WithLabelValues("example.com", "1.1.1.1", "A")); got != 2.5 {
		t.Errorf("latency_zscore = %v, want 2.5", got)
	}
	if got := testutil.CollectAndCount(c.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.ObserveAnomaly("critical")
	c.ObserveAnomaly("critical")
	c.ObserveAlert("webhook", "dropped")
	c.ObserveWave(120 * time.Millisecond)

	if got := testutil.ToFloat64(c.anomalies.WithLabelValues("critical")); got != 2 {
		t.Errorf("anomalies{critical} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.alerts.WithLabelValues("webhook", "dropped")); got != 1 {
		t.Errorf("alerts{webhook,dropped} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.waveSeconds); got != 1 {
		t.Errorf("wave histogram series = %d, want 1", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveResult(proto.CheckResult{})
	c.ObserveAnomaly("warning")
	c.ObserveAlert("webhook", "failed")
	c.ObserveWave(time.Second)
}
