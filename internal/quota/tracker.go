// Package quota tracks outbound upstream-API calls for quota monitoring:
// a bounded ring of request log entries plus monthly counters with
// passive calendar rollover.
package quota

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the in-memory request log; oldest entries are
// dropped past it.
const DefaultCapacity = 2000

// Entry is one outbound call record.
type Entry struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Endpoint    string        `json:"endpoint"`
	Method      string        `json:"method"`
	Airport     string        `json:"airport,omitempty"`
	RequestType string        `json:"request_type"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Counters are the aggregates recomputed over the ring on every write.
type Counters struct {
	TotalRequests int            `json:"total_requests"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	ByType        map[string]int `json:"by_type"`
	ByAirport     map[string]int `json:"by_airport"`
	AvgDuration   time.Duration  `json:"avg_duration"`
}

// Report is a point-in-time view of the tracker.
type Report struct {
	Counters       Counters       `json:"counters"`
	CurrentMonth   string         `json:"current_month"`
	MonthRequests  int            `json:"month_requests"`
	MonthlyHistory map[string]int `json:"monthly_history"`
}

// ShouldRollover reports whether now has crossed into a calendar month
// after lastMonth (YYYY-MM). Pure so rollover is testable without
// wall-clock waits.
func ShouldRollover(lastMonth string, now time.Time) bool {
	if lastMonth == "" {
		return false
	}
	return now.Format("2006-01") != lastMonth
}

// Tracker accumulates request log entries. All mutating operations first
// perform the passive month-rollover check; there is no background timer.
type Tracker struct {
	mu             sync.Mutex
	capacity       int
	entries        []Entry
	counters       Counters
	currentMonth   string
	monthRequests  int
	monthlyHistory map[string]int
	statePath      string // optional JSON persistence, "" = memory only
	now            func() time.Time
}

// New creates a tracker with the given ring capacity (0 means
// DefaultCapacity). statePath, when non-empty, names a JSON file the
// tracker state is saved to after each write and loaded from at startup
// so monthly counters survive restarts.
func New(capacity int, statePath string) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Tracker{
		capacity:       capacity,
		monthlyHistory: make(map[string]int),
		statePath:      statePath,
		now:            time.Now,
	}
	t.currentMonth = t.now().Format("2006-01")

	if statePath != "" {
		if err := t.load(); err != nil && !os.IsNotExist(err) {
			// A corrupt state file is not fatal; start fresh.
			log.Printf("quota: load state: %v", err)
		}
	}
	return t
}

// LogRequest appends an entry, trims the ring, and recomputes counters.
// An empty entry ID gets a generated UUID.
func (t *Tracker) LogRequest(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}

	t.entries = append(t.entries, e)
	if len(t.entries) > t.capacity {
		t.entries = t.entries[len(t.entries)-t.capacity:]
	}
	t.monthRequests++
	t.recomputeLocked()
	t.saveLocked()
}

// ResetCounter archives the current month's total into the monthly history
// before zeroing it.
func (t *Tracker) ResetCounter() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.monthlyHistory[t.currentMonth] = t.monthRequests
	t.monthRequests = 0
	t.saveLocked()
}

// Snapshot returns the current counters and monthly history.
func (t *Tracker) Snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	history := make(map[string]int, len(t.monthlyHistory))
	for k, v := range t.monthlyHistory {
		history[k] = v
	}
	counters := t.counters
	counters.ByType = copyCounts(t.counters.ByType)
	counters.ByAirport = copyCounts(t.counters.ByAirport)

	return Report{
		Counters:       counters,
		CurrentMonth:   t.currentMonth,
		MonthRequests:  t.monthRequests,
		MonthlyHistory: history,
	}
}

// Entries returns a copy of the retained log, oldest first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// rolloverLocked archives the prior month when the calendar has moved on.
// Call with the lock held.
func (t *Tracker) rolloverLocked() {
	now := t.now()
	if !ShouldRollover(t.currentMonth, now) {
		return
	}
	t.monthlyHistory[t.currentMonth] = t.monthRequests
	t.monthRequests = 0
	t.currentMonth = now.Format("2006-01")
}

// recomputeLocked rebuilds the aggregate counters from the ring.
func (t *Tracker) recomputeLocked() {
	c := Counters{
		ByType:    make(map[string]int),
		ByAirport: make(map[string]int),
	}
	var total time.Duration
	for _, e := range t.entries {
		c.TotalRequests++
		if e.Success {
			c.Succeeded++
		} else {
			c.Failed++
		}
		if e.RequestType != "" {
			c.ByType[e.RequestType]++
		}
		if e.Airport != "" {
			c.ByAirport[e.Airport]++
		}
		total += e.Duration
	}
	if c.TotalRequests > 0 {
		c.AvgDuration = total / time.Duration(c.TotalRequests)
	}
	t.counters = c
}

// trackerState is the persisted form.
type trackerState struct {
	CurrentMonth   string         `json:"current_month"`
	MonthRequests  int            `json:"month_requests"`
	MonthlyHistory map[string]int `json:"monthly_history"`
	Entries        []Entry        `json:"entries"`
}

func (t *Tracker) saveLocked() {
	if t.statePath == "" {
		return
	}
	state := trackerState{
		CurrentMonth:   t.currentMonth,
		MonthRequests:  t.monthRequests,
		MonthlyHistory: t.monthlyHistory,
		Entries:        t.entries,
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("quota: marshal state: %v", err)
		return
	}
	if err := os.WriteFile(t.statePath, data, 0o644); err != nil {
		log.Printf("quota: save state: %v", err)
	}
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return err
	}
	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if state.CurrentMonth != "" {
		t.currentMonth = state.CurrentMonth
	}
	t.monthRequests = state.MonthRequests
	if state.MonthlyHistory != nil {
		t.monthlyHistory = state.MonthlyHistory
	}
	t.entries = state.Entries
	if len(t.entries) > t.capacity {
		t.entries = t.entries[len(t.entries)-t.capacity:]
	}
	t.recomputeLocked()
	return nil
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
