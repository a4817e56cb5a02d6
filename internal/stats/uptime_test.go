package stats

import "testing"

func TestUptimeStats_Ratio(t *testing.T) {
	u := NewUptimeStats(DefaultWindow)
	if r := u.Ratio(); r != 0 {
		t.Errorf("Ratio() on empty window = %v, want 0", r)
	}

	for _, ok := range []bool{true, true, false, true} {
		u.Add(ok)
	}
	if r := u.Ratio(); r != 0.75 {
		t.Errorf("Ratio() = %v, want 0.75", r)
	}
}

func TestUptimeStats_Eviction(t *testing.T) {
	u := NewUptimeStats(4)
	for _, ok := range []bool{false, false, true, true, true, true} {
		u.Add(ok)
	}
	if u.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", u.Len())
	}
	if r := u.Ratio(); r != 1 {
		t.Errorf("Ratio() = %v, want 1 after failures were evicted", r)
	}

	u.Add(false)
	if r := u.Ratio(); r != 0.75 {
		t.Errorf("Ratio() = %v, want 0.75", r)
	}
}
