package proto

import (
	"fmt"
	"time"
)

// RecordType is a DNS record type mnemonic, e.g. "A" or "AAAA".
type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordMX    RecordType = "MX"
	RecordNS    RecordType = "NS"
	RecordTXT   RecordType = "TXT"
)

// CheckKey identifies one monitored (target, resolver, record type) combination.
// It is comparable and used directly as a map key.
type CheckKey struct {
	Target     string     `json:"target"`
	Resolver   string     `json:"resolver"`
	RecordType RecordType `json:"record_type"`
}

func (k CheckKey) String() string {
	return fmt.Sprintf("%s via %s (%s)", k.Target, k.Resolver, k.RecordType)
}

// CheckResult is the outcome of one probe. The check package fills in the
// probe fields; the registry adds ZScore and UptimeRatio when the result is
// folded into the key's statistics.
type CheckResult struct {
	Key         CheckKey  `json:"key"`
	Up          bool      `json:"success"`
	LatencyMs   float64   `json:"latency_ms"`
	Addresses   []string  `json:"addresses"`
	Error       string    `json:"error,omitempty"`
	ZScore      float64   `json:"zscore"`
	UptimeRatio float64   `json:"uptime_ratio"`
	Timestamp   time.Time `json:"timestamp"`
}
