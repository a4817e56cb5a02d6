package stats

// UptimeStats keeps a rolling window of probe outcomes.
type UptimeStats struct {
	results *Window[bool]
	up      int
}

// NewUptimeStats returns empty stats retaining at most window outcomes.
func NewUptimeStats(window int) *UptimeStats {
	return &UptimeStats{results: NewWindow[bool](window)}
}

// Add records one outcome.
func (u *UptimeStats) Add(success bool) {
	if u.results.Len() == u.results.Cap() {
		if oldest, _ := u.results.Oldest(); oldest {
			u.up--
		}
	}
	u.results.Push(success)
	if success {
		u.up++
	}
}

// Len returns the number of retained outcomes.
func (u *UptimeStats) Len() int { return u.results.Len() }

// Ratio returns the fraction of successful outcomes, or 0 when empty.
func (u *UptimeStats) Ratio() float64 {
	if u.results.Len() == 0 {
		return 0
	}
	return float64(u.up) / float64(u.results.Len())
}
