package proto

import "time"

// Summary describes the latency window of one key. A zero Count means no
// samples have been observed and every other field is omitted.
type Summary struct {
	Count    int     `json:"count"`
	MedianMs float64 `json:"median_ms,omitempty"`
	P95Ms    float64 `json:"p95_ms,omitempty"`
	EMAMs    float64 `json:"ema_ms,omitempty"`
}

// Entry is the externally visible state of one key. Error and the last
// anomaly fields are null when absent, never omitted.
type Entry struct {
	Resolver          string     `json:"resolver"`
	RecordType        RecordType `json:"record_type"`
	Success           bool       `json:"success"`
	LatencyMs         float64    `json:"latency_ms"`
	ZScore            float64    `json:"zscore"`
	Addresses         []string   `json:"addresses"`
	Error             *string    `json:"error"`
	UptimeRatio       float64    `json:"uptime_ratio"`
	LatencySummary    Summary    `json:"latency_summary"`
	Timestamp         time.Time  `json:"timestamp"`
	LastAnomalyReason *string    `json:"last_anomaly_reason"`
	LastAnomalyAt     *time.Time `json:"last_anomaly_at"`
}

// Snapshot groups the latest entries by target.
type Snapshot struct {
	Targets     map[string][]Entry `json:"targets"`
	GeneratedAt time.Time          `json:"generated_at"`
}
