package ingest

import (
	"context"
	"testing"
	"time"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/quota"
	"flighthist/internal/storage"
)

func newTestPipeline(t *testing.T) (*Pipeline, storage.Store, *hotcache.Cache, *quota.Tracker) {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := hotcache.New(nil)
	tracker := quota.New(100, "")
	pipe := New(store, cache, nil, tracker, Options{CacheTTL: 10 * time.Minute})
	return pipe, store, cache, tracker
}

func rawFlight(number, scheduled, status string) flight.RawFlight {
	raw := flight.RawFlight{
		FlightNumber:  number,
		ScheduledTime: scheduled,
		Status:        status,
	}
	raw.Airline.Code = "RO"
	raw.Airline.Name = "TAROM"
	raw.Origin.Code = "OTP"
	raw.Origin.Name = "Bucharest Henri Coanda"
	raw.Destination.Code = "KIV"
	raw.Destination.Name = "Chisinau"
	return raw
}

func TestIngestNormalizesAndSaves(t *testing.T) {
	pipe, store, cache, _ := newTestPipeline(t)
	ctx := context.Background()

	raws := []flight.RawFlight{
		rawFlight("RO201", "2026-03-10T08:00:00Z", "landed"),
		rawFlight("RO203", "2026-03-10T12:30:00Z", "scheduled"),
		rawFlight("", "2026-03-10T14:00:00Z", "scheduled"), // missing flight number
	}

	res, err := pipe.Ingest(ctx, "KIV", flight.TypeArrivals, raws)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Normalized != 2 || res.Dropped != 1 {
		t.Errorf("normalized=%d dropped=%d, want 2/1", res.Normalized, res.Dropped)
	}
	if res.Saved != 2 {
		t.Errorf("saved=%d, want 2", res.Saved)
	}

	today := time.Now().UTC().Format("2006-01-02")
	got, err := store.GetSnapshot(ctx, "KIV", today, flight.TypeArrivals)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored %d records, want 2", len(got))
	}

	cached, ok := cache.Get(flight.CacheKey("KIV", flight.TypeArrivals))
	if !ok {
		t.Fatal("expected cache entry after ingest")
	}
	if len(cached) != 2 {
		t.Errorf("cached %d records, want 2", len(cached))
	}
}

func TestIngestDuplicateStillRefreshesCache(t *testing.T) {
	pipe, _, cache, _ := newTestPipeline(t)
	ctx := context.Background()

	first := []flight.RawFlight{rawFlight("RO201", "2026-03-10T08:00:00Z", "landed")}
	if _, err := pipe.Ingest(ctx, "KIV", flight.TypeArrivals, first); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	second := []flight.RawFlight{
		rawFlight("RO201", "2026-03-10T08:00:00Z", "landed"),
		rawFlight("RO203", "2026-03-10T12:30:00Z", "delayed"),
	}
	res, err := pipe.Ingest(ctx, "KIV", flight.TypeArrivals, second)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !res.Duplicate {
		t.Error("expected duplicate no-op on second ingest for same day")
	}
	if res.Saved != 0 {
		t.Errorf("saved=%d, want 0 on duplicate", res.Saved)
	}

	// The cache slot tracks the newest observation even though the store
	// kept the first snapshot.
	cached, ok := cache.Get(flight.CacheKey("KIV", flight.TypeArrivals))
	if !ok {
		t.Fatal("expected cache entry")
	}
	if len(cached) != 2 {
		t.Errorf("cached %d records, want 2 from latest batch", len(cached))
	}
}

func TestIngestEmptyBatchIsDurable(t *testing.T) {
	pipe, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := pipe.Ingest(ctx, "KIV", flight.TypeDepartures, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempted != 0 || res.Duplicate {
		t.Errorf("unexpected result %+v", res)
	}

	today := time.Now().UTC().Format("2006-01-02")
	has, err := store.HasSnapshot(ctx, "KIV", today, flight.TypeDepartures)
	if err != nil {
		t.Fatalf("checking snapshot: %v", err)
	}
	if !has {
		t.Error("empty snapshot should be recorded")
	}
}

func TestIngestStoresUnderUTCDate(t *testing.T) {
	pipe, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	// 10:00 on Jan 11 in UTC+14 is 20:00 on Jan 10 in UTC. Readers resolve
	// "today" in UTC, so the snapshot must land on the UTC date.
	loc := time.FixedZone("LINT", 14*60*60)
	pipe.now = func() time.Time {
		return time.Date(2025, 1, 11, 10, 0, 0, 0, loc)
	}

	raws := []flight.RawFlight{rawFlight("RO201", "2025-01-10T19:00:00Z", "landed")}
	if _, err := pipe.Ingest(ctx, "KIV", flight.TypeArrivals, raws); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	has, err := store.HasSnapshot(ctx, "KIV", "2025-01-10", flight.TypeArrivals)
	if err != nil {
		t.Fatalf("has UTC date: %v", err)
	}
	if !has {
		t.Error("snapshot not stored under the UTC date")
	}

	has, err = store.HasSnapshot(ctx, "KIV", "2025-01-11", flight.TypeArrivals)
	if err != nil {
		t.Fatalf("has local date: %v", err)
	}
	if has {
		t.Error("snapshot stored under the local wall-clock date")
	}
}

func TestIngestLogsQuota(t *testing.T) {
	pipe, _, _, tracker := newTestPipeline(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := pipe.Ingest(ctx, "RMO", flight.TypeArrivals, nil); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	rep := tracker.Snapshot()
	if rep.MonthRequests != 3 {
		t.Errorf("month requests = %d, want 3", rep.MonthRequests)
	}
	if rep.Counters.ByAirport["RMO"] != 3 {
		t.Errorf("by airport = %v", rep.Counters.ByAirport)
	}
	if rep.Counters.Failed != 0 {
		t.Errorf("failed = %d, want 0", rep.Counters.Failed)
	}
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		airport string
		ft      flight.Type
		ok      bool
	}{
		{"flights.raw.kiv.arrivals", "KIV", flight.TypeArrivals, true},
		{"flights.raw.OTP.departures", "OTP", flight.TypeDepartures, true},
		{"flights.raw.kiv.cargo", "", "", false},
		{"flights.raw.kiv", "", "", false},
		{"weather.raw.kiv.arrivals", "", "", false},
	}
	for _, tt := range tests {
		airport, ft, ok := parseSubject(tt.subject)
		if ok != tt.ok || airport != tt.airport || ft != tt.ft {
			t.Errorf("parseSubject(%q) = %q %q %v, want %q %q %v",
				tt.subject, airport, ft, ok, tt.airport, tt.ft, tt.ok)
		}
	}
}
