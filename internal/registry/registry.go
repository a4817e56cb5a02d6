// Package registry holds the per-key statistics and latest results of the
// monitor. Each key's fields are guarded by their own mutex, so readers
// always observe either the state before or after one update of that key.
package registry

import (
	"sync"
	"time"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/proto"
	"github.com/tmater/dnswatch/internal/stats"
)

// DetectFunc decides whether a recorded result is anomalous. anomaly.Detect
// is the production implementation.
type DetectFunc func(anomaly.Evidence) (anomaly.Finding, bool)

type entry struct {
	mu            sync.Mutex
	latency       *stats.LatencyStats
	uptime        *stats.UptimeStats
	last          *proto.CheckResult
	anomalyReason string
	anomalyAt     time.Time
}

// Stats is a consistent copy of one key's state.
type Stats struct {
	Key               proto.CheckKey
	Latency           proto.Summary
	Samples           []float64
	Outcomes          int
	UptimeRatio       float64
	Last              *proto.CheckResult
	LastAnomalyReason string
	LastAnomalyAt     time.Time
}

// Registry maps each CheckKey to its statistics.
type Registry struct {
	mu      sync.RWMutex
	window  int
	entries map[proto.CheckKey]*entry
	order   []proto.CheckKey
}

// New creates a registry with an entry for every key. window is the
// capacity of both rolling windows; values below 1 select stats.DefaultWindow.
func New(keys []proto.CheckKey, window int) *Registry {
	if window < 1 {
		window = stats.DefaultWindow
	}
	r := &Registry{
		window:  window,
		entries: make(map[proto.CheckKey]*entry, len(keys)),
	}
	for _, k := range keys {
		r.lookup(k)
	}
	return r
}

// lookup returns the entry for key, creating it when missing.
func (r *Registry) lookup(key proto.CheckKey) *entry {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e
	}
	e = &entry{
		latency: stats.NewLatencyStats(r.window),
		uptime:  stats.NewUptimeStats(r.window),
	}
	r.entries[key] = e
	r.order = append(r.order, key)
	return e
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []proto.CheckKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]proto.CheckKey(nil), r.order...)
}

// Get returns a copy of key's state, creating an empty entry if needed.
func (r *Registry) Get(key proto.CheckKey) Stats {
	e := r.lookup(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Key:               key,
		Latency:           e.latency.Summary(),
		Samples:           e.latency.Samples(),
		Outcomes:          e.uptime.Len(),
		UptimeRatio:       e.uptime.Ratio(),
		LastAnomalyReason: e.anomalyReason,
		LastAnomalyAt:     e.anomalyAt,
	}
	if e.last != nil {
		last := *e.last
		s.Last = &last
	}
	return s
}

// Record folds res into its key's statistics and replaces the stored latest
// result. The returned result carries the z-score of the sample against the
// window before it was added and the uptime ratio after the outcome was
// added. When detect reports a finding, it becomes the key's last anomaly
// within the same critical section.
func (r *Registry) Record(res proto.CheckResult, detect DetectFunc) (proto.CheckResult, anomaly.Finding, bool) {
	e := r.lookup(res.Key)
	e.mu.Lock()
	defer e.mu.Unlock()

	priorEMA, hasPrior := e.latency.EMA()
	res.ZScore = e.latency.ZScore(res.LatencyMs)
	e.latency.Add(res.LatencyMs)
	e.uptime.Add(res.Up)
	res.UptimeRatio = e.uptime.Ratio()
	res.Addresses = append([]string(nil), res.Addresses...)

	stored := res
	e.last = &stored

	if detect == nil {
		return res, anomaly.Finding{}, false
	}
	finding, ok := detect(anomaly.Evidence{
		Result:      res,
		Outcomes:    e.uptime.Len(),
		PriorEMA:    priorEMA,
		HasPriorEMA: hasPrior,
	})
	if ok {
		e.anomalyReason = finding.Reason
		e.anomalyAt = res.Timestamp
	}
	return res, finding, ok
}

// Snapshot returns the latest entry of every key that has been probed,
// grouped by target.
func (r *Registry) Snapshot() proto.Snapshot {
	snap := proto.Snapshot{
		Targets:     make(map[string][]proto.Entry),
		GeneratedAt: time.Now().UTC(),
	}
	for _, key := range r.Keys() {
		e := r.lookup(key)

		e.mu.Lock()
		if e.last == nil {
			e.mu.Unlock()
			continue
		}
		entry := proto.Entry{
			Resolver:          key.Resolver,
			RecordType:        key.RecordType,
			Success:           e.last.Up,
			LatencyMs:         e.last.LatencyMs,
			ZScore:            e.last.ZScore,
			Addresses:         append([]string{}, e.last.Addresses...),
			Error:             optional(e.last.Error),
			UptimeRatio:       e.last.UptimeRatio,
			LatencySummary:    e.latency.Summary(),
			Timestamp:         e.last.Timestamp,
			LastAnomalyReason: optional(e.anomalyReason),
		}
		if !e.anomalyAt.IsZero() {
			at := e.anomalyAt
			entry.LastAnomalyAt = &at
		}
		e.mu.Unlock()

		snap.Targets[key.Target] = append(snap.Targets[key.Target], entry)
	}
	return snap
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
