package quota

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShouldRollover(t *testing.T) {
	tests := []struct {
		lastMonth string
		now       time.Time
		want      bool
	}{
		{"2025-01", time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC), false},
		{"2025-01", time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC), true},
		{"2024-12", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2025-01", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		if got := ShouldRollover(tt.lastMonth, tt.now); got != tt.want {
			t.Errorf("ShouldRollover(%q, %v) = %v, want %v", tt.lastMonth, tt.now, got, tt.want)
		}
	}
}

func TestLogRequestCounters(t *testing.T) {
	tr := New(100, "")

	tr.LogRequest(Entry{Endpoint: "/flights", Method: "GET", Airport: "OTP", RequestType: "arrivals", Success: true, Duration: 100 * time.Millisecond})
	tr.LogRequest(Entry{Endpoint: "/flights", Method: "GET", Airport: "OTP", RequestType: "departures", Success: true, Duration: 300 * time.Millisecond})
	tr.LogRequest(Entry{Endpoint: "/flights", Method: "GET", Airport: "CLJ", RequestType: "arrivals", Success: false, Duration: 200 * time.Millisecond, Error: "timeout"})

	rep := tr.Snapshot()
	c := rep.Counters
	if c.TotalRequests != 3 || c.Succeeded != 2 || c.Failed != 1 {
		t.Errorf("counters = %+v", c)
	}
	if c.ByType["arrivals"] != 2 || c.ByType["departures"] != 1 {
		t.Errorf("ByType = %v", c.ByType)
	}
	if c.ByAirport["OTP"] != 2 || c.ByAirport["CLJ"] != 1 {
		t.Errorf("ByAirport = %v", c.ByAirport)
	}
	if c.AvgDuration != 200*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 200ms", c.AvgDuration)
	}
	if rep.MonthRequests != 3 {
		t.Errorf("MonthRequests = %d, want 3", rep.MonthRequests)
	}
}

func TestLogRequestAssignsID(t *testing.T) {
	tr := New(10, "")
	tr.LogRequest(Entry{Endpoint: "/flights"})

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("entry ID not assigned")
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("entry timestamp not assigned")
	}
}

func TestRingTrimming(t *testing.T) {
	tr := New(5, "")
	for i := 0; i < 12; i++ {
		tr.LogRequest(Entry{Endpoint: "/flights", RequestType: "arrivals", Success: true})
	}

	entries := tr.Entries()
	if len(entries) != 5 {
		t.Errorf("retained %d entries, want 5", len(entries))
	}
	// Counters reflect the retained ring, not all-time.
	if got := tr.Snapshot().Counters.TotalRequests; got != 5 {
		t.Errorf("TotalRequests = %d, want 5", got)
	}
	// The monthly counter keeps the all-time count for the month.
	if got := tr.Snapshot().MonthRequests; got != 12 {
		t.Errorf("MonthRequests = %d, want 12", got)
	}
}

func TestMonthRolloverOnWrite(t *testing.T) {
	tr := New(100, "")
	now := time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	tr.currentMonth = now.Format("2006-01")

	tr.LogRequest(Entry{Endpoint: "/flights", Success: true})
	tr.LogRequest(Entry{Endpoint: "/flights", Success: true})

	// Cross the month boundary; the next write auto-archives January.
	now = time.Date(2025, 2, 2, 8, 0, 0, 0, time.UTC)
	tr.LogRequest(Entry{Endpoint: "/flights", Success: true})

	rep := tr.Snapshot()
	if rep.CurrentMonth != "2025-02" {
		t.Errorf("CurrentMonth = %s, want 2025-02", rep.CurrentMonth)
	}
	if rep.MonthlyHistory["2025-01"] != 2 {
		t.Errorf("January history = %d, want 2", rep.MonthlyHistory["2025-01"])
	}
	if rep.MonthRequests != 1 {
		t.Errorf("MonthRequests = %d, want 1", rep.MonthRequests)
	}
}

func TestResetCounterArchives(t *testing.T) {
	tr := New(100, "")
	tr.LogRequest(Entry{Endpoint: "/flights", Success: true})
	tr.LogRequest(Entry{Endpoint: "/flights", Success: true})

	tr.ResetCounter()

	rep := tr.Snapshot()
	if rep.MonthRequests != 0 {
		t.Errorf("MonthRequests after reset = %d, want 0", rep.MonthRequests)
	}
	if rep.MonthlyHistory[rep.CurrentMonth] != 2 {
		t.Errorf("history[%s] = %d, want 2", rep.CurrentMonth, rep.MonthlyHistory[rep.CurrentMonth])
	}
}

func TestStatePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")

	tr := New(100, path)
	tr.LogRequest(Entry{Endpoint: "/flights", Airport: "OTP", RequestType: "arrivals", Success: true})
	tr.LogRequest(Entry{Endpoint: "/flights", Airport: "OTP", RequestType: "arrivals", Success: false})

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	// A new tracker loads the persisted state.
	tr2 := New(100, path)
	rep := tr2.Snapshot()
	if rep.Counters.TotalRequests != 2 {
		t.Errorf("restored TotalRequests = %d, want 2", rep.Counters.TotalRequests)
	}
	if rep.MonthRequests != 2 {
		t.Errorf("restored MonthRequests = %d, want 2", rep.MonthRequests)
	}
	if rep.Counters.ByAirport["OTP"] != 2 {
		t.Errorf("restored ByAirport = %v", rep.Counters.ByAirport)
	}
}

func TestCorruptStateFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := New(100, path)
	if got := tr.Snapshot().Counters.TotalRequests; got != 0 {
		t.Errorf("TotalRequests = %d, want 0 from fresh state", got)
	}
}
