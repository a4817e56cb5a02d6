// Package monitor runs waves of DNS probes on a fixed cadence and feeds
// every result through the registry, the anomaly detector and the alerter.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/metrics"
	"github.com/tmater/dnswatch/internal/proto"
	"github.com/tmater/dnswatch/internal/registry"
)

// State is the lifecycle state of a Monitor.
type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// ErrStarted is returned by Run when the monitor was already started.
var ErrStarted = errors.New("monitor: already started")

// Prober runs one probe. It must report every failure in the result and
// return within its own timeout.
type Prober interface {
	Probe(ctx context.Context, key proto.CheckKey) proto.CheckResult
}

// Notifier receives anomalies. It must not block.
type Notifier interface {
	Alert(text string, severity anomaly.Severity, payload proto.CheckResult)
}

// Options configure a Monitor.
type Options struct {
	Interval    time.Duration
	Concurrency int // probes in flight per wave; 0 means all keys at once
	Notifier    Notifier
	Metrics     *metrics.Collector
}

// Monitor probes a fixed key set in waves.
type Monitor struct {
	keys        []proto.CheckKey
	registry    *registry.Registry
	prober      Prober
	notifier    Notifier
	metrics     *metrics.Collector
	interval    time.Duration
	concurrency int
	log         *logrus.Entry

	started  atomic.Bool
	state    atomic.Int32
	waves    atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// New validates its arguments and returns a monitor in the Running state.
func New(keys []proto.CheckKey, reg *registry.Registry, prober Prober, opts Options) (*Monitor, error) {
	if len(keys) == 0 {
		return nil, errors.New("monitor: no check keys")
	}
	if reg == nil || prober == nil {
		return nil, errors.New("monitor: registry and prober are required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("monitor: interval must be positive, got %s", opts.Interval)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = len(keys)
	}
	return &Monitor{
		keys:        append([]proto.CheckKey(nil), keys...),
		registry:    reg,
		prober:      prober,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		log:         logger.For("monitor"),
		stop:        make(chan struct{}),
	}, nil
}

// Run probes every key once per wave, sleeping Interval between waves,
// until ctx is done or Stop is called. A wave in progress always runs to
// completion: cancellation only prevents the next one.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	defer m.state.Store(int32(Stopped))

	m.log.WithFields(logrus.Fields{
		"keys":        len(m.keys),
		"interval":    m.interval,
		"concurrency": m.concurrency,
	}).Info("monitor started")

	for !m.stopping(ctx) {
		m.wave(ctx)
		if !m.sleep(ctx) {
			break
		}
	}

	m.log.WithField("waves", m.waves.Load()).Info("monitor stopped")
	return nil
}

// sleep waits one interval. It reports false when woken by a stop signal.
func (m *Monitor) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-m.stop:
		return false
	}
}

func (m *Monitor) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-m.stop:
		return true
	default:
		return false
	}
}

// wave probes every key and returns once all of them completed.
func (m *Monitor) wave(ctx context.Context) {
	start := time.Now()
	probeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, key := range m.keys {
		key := key
		g.Go(func() error {
			m.checkAndAnalyze(probeCtx, key)
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(start)
	n := m.waves.Add(1)
	m.metrics.ObserveWave(elapsed)
	m.log.WithFields(logrus.Fields{"wave": n, "probes": len(m.keys), "elapsed": elapsed.Round(time.Millisecond)}).Info("wave done")
}

// checkAndAnalyze probes key and handles the result.
func (m *Monitor) checkAndAnalyze(ctx context.Context, key proto.CheckKey) {
	res := m.probe(ctx, key)
	res.Key = key
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}

	res, finding, anomalous := m.registry.Record(res, anomaly.Detect)
	m.metrics.ObserveResult(res)

	m.log.WithFields(logrus.Fields{
		"target":     key.Target,
		"resolver":   key.Resolver,
		"rtype":      key.RecordType,
		"up":         res.Up,
		"latency_ms": fmt.Sprintf("%.1f", res.LatencyMs),
		"uptime":     fmt.Sprintf("%.2f%%", res.UptimeRatio*100),
		"zscore":     fmt.Sprintf("%.2f", res.ZScore),
	}).Debug("probe done")

	if !anomalous {
		return
	}
	m.metrics.ObserveAnomaly(string(finding.Severity))
	if m.notifier != nil {
		m.notifier.Alert(anomaly.Text(key, finding), finding.Severity, res)
	}
}

// probe runs the prober for key. A panic is contained to this key and
// reported as a failed outcome.
func (m *Monitor) probe(ctx context.Context, key proto.CheckKey) (res proto.CheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("key", key.String()).Errorf("probe panicked: %v", r)
			res = proto.CheckResult{
				Key:       key,
				Error:     fmt.Sprintf("probe panicked: %v", r),
				LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
				Timestamp: time.Now().UTC(),
			}
		}
	}()
	return m.prober.Probe(ctx, key)
}

// Stop asks Run to return after the current wave. It is safe to call more
// than once and from any goroutine.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// State returns Running until Run has returned.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Waves returns the number of completed waves.
func (m *Monitor) Waves() uint64 {
	return m.waves.Load()
}

// Snapshot returns the registry snapshot.
func (m *Monitor) Snapshot() proto.Snapshot {
	return m.registry.Snapshot()
}
