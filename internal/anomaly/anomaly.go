// Package anomaly decides whether a freshly recorded probe result is worth
// alerting on.
package anomaly

import (
	"fmt"

	"github.com/tmater/dnswatch/internal/proto"
)

// Severity separates sustained outages from isolated events.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	// MinOutcomes is the uptime history needed before failures count as repeated.
	MinOutcomes = 20
	// UptimeFloor is the ratio below which repeated failures are reported.
	UptimeFloor = 0.95
	// ZScoreThreshold and SpikeFactor must both be exceeded for a latency spike.
	ZScoreThreshold = 3.0
	SpikeFactor     = 1.5
)

const (
	ReasonRepeatedFailures = "repeated failures: uptime ratio below 95% over window"
	ReasonSingleFailure    = "single failure"
)

// Evidence is what the detector sees for one result. Result carries the
// z-score computed against the window before the sample was added and the
// uptime ratio after the outcome was added; Outcomes is the uptime window
// length after the outcome was added; PriorEMA is the EMA before the sample.
type Evidence struct {
	Result      proto.CheckResult
	Outcomes    int
	PriorEMA    float64
	HasPriorEMA bool
}

// Finding is a detected anomaly.
type Finding struct {
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Detect returns the anomaly held by ev, if any. Every failed probe yields a
// finding; repeated failures are critical, isolated ones are warnings. A
// successful probe is a latency spike only when its z-score reaches
// ZScoreThreshold and its latency exceeds SpikeFactor times the prior EMA.
func Detect(ev Evidence) (Finding, bool) {
	r := ev.Result
	if !r.Up {
		if ev.Outcomes >= MinOutcomes && r.UptimeRatio < UptimeFloor {
			return Finding{Reason: ReasonRepeatedFailures, Severity: SeverityCritical}, true
		}
		return Finding{Reason: ReasonSingleFailure, Severity: SeverityWarning}, true
	}

	if !ev.HasPriorEMA {
		return Finding{}, false
	}
	if r.ZScore >= ZScoreThreshold && r.LatencyMs > ev.PriorEMA*SpikeFactor {
		return Finding{
			Reason:   fmt.Sprintf("latency spike: z=%.2f, %.1f ms", r.ZScore, r.LatencyMs),
			Severity: SeverityWarning,
		}, true
	}
	return Finding{}, false
}

// Text renders the one-line alert message for f on key.
func Text(key proto.CheckKey, f Finding) string {
	return fmt.Sprintf("[DNS] %s via %s (%s) anomaly: %s", key.Target, key.Resolver, key.RecordType, f.Reason)
}
