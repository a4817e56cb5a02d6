// Package metrics exposes probe, wave and alert counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tmater/dnswatch/internal/proto"
)

var keyLabels = []string{"target", "resolver", "rtype"}

// Collector groups the dnswatch metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	probes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	up          *prometheus.GaugeVec
	uptime      *prometheus.GaugeVec
	zscore      *prometheus.GaugeVec
	anomalies   *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	waveSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnswatch_probes_total",
			Help: "DNS probes run, by outcome.",
		}, append(keyLabels, "result")),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnswatch_probe_duration_seconds",
			Help:    "Duration of DNS probes in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, keyLabels),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dnswatch_probe_up",
			Help: "Latest DNS probe success (1) or failure (0).",
		}, keyLabels),
		uptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dnswatch_uptime_ratio",
			Help: "Fraction of successful probes in the rolling window.",
		}, keyLabels),
		zscore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dnswatch_latency_zscore",
			Help: "Z-score of the latest probe latency against the rolling window.",
		}, keyLabels),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnswatch_anomalies_total",
			Help: "Detected anomalies, by severity.",
		}, []string{"severity"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnswatch_alerts_total",
			Help: "Alert deliveries, by sink and result (delivered, failed, dropped).",
		}, []string{"sink", "result"}),
		waveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dnswatch_wave_duration_seconds",
			Help:    "Time taken to complete one wave of probes.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.probes, c.duration, c.up, c.uptime, c.zscore, c.anomalies, c.alerts, c.waveSeconds)
	return c
}

// ObserveResult records a result already folded into the registry.
func (c *Collector) ObserveResult(r proto.CheckResult) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"target": r.Key.Target, "resolver": r.Key.Resolver, "rtype": string(r.Key.RecordType)}
	outcome, up := "failure", 0.0
	if r.Up {
		outcome, up = "success", 1.0
	}
	c.probes.MustCurryWith(labels).WithLabelValues(outcome).Inc()
	c.duration.With(labels).Observe(r.LatencyMs / 1000)
	c.up.With(labels).Set(up)
	c.uptime.With(labels).Set(r.UptimeRatio)
	c.zscore.With(labels).Set(r.ZScore)
}

// ObserveAnomaly counts one finding of the given severity.
func (c *Collector) ObserveAnomaly(severity string) {
	if c == nil {
		return
	}
	c.anomalies.WithLabelValues(severity).Inc()
}

// ObserveAlert counts one alert delivery attempt outcome for sink.
func (c *Collector) ObserveAlert(sink, result string) {
	if c == nil {
		return
	}
	c.alerts.WithLabelValues(sink, result).Inc()
}

// ObserveWave records the duration of a completed wave.
func (c *Collector) ObserveWave(d time.Duration) {
	if c == nil {
		return
	}
	c.waveSeconds.Observe(d.Seconds())
}
