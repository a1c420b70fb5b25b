package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/ingest"
	"flighthist/internal/quota"
	"flighthist/internal/stats"
	"flighthist/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := hotcache.New(nil)
	tracker := quota.New(100, "")
	pipe := ingest.New(store, cache, nil, tracker, ingest.Options{CacheTTL: 10 * time.Minute})
	agg := stats.New(cache, store, stats.Config{})

	return NewServer(Deps{
		Store:    store,
		Cache:    cache,
		Pipeline: pipe,
		Stats:    agg,
		Tracker:  tracker,
	}, cfg)
}

func rawBatch() []flight.RawFlight {
	sched := time.Now().UTC().Truncate(time.Hour)

	mk := func(number, status string, offset time.Duration) flight.RawFlight {
		raw := flight.RawFlight{
			FlightNumber:  number,
			ScheduledTime: sched.Add(offset).Format(time.RFC3339),
			Status:        status,
		}
		raw.Airline.Code = "RO"
		raw.Origin.Code = "KIV"
		raw.Destination.Code = "OTP"
		return raw
	}

	delayed := mk("RO201", "landed", 0)
	actual := sched.Add(20 * time.Minute)
	delayed.ActualTime = actual.Format(time.RFC3339)

	return []flight.RawFlight{
		delayed,
		mk("RO203", "cancelled", time.Hour),
		mk("RO205", "scheduled", 2*time.Hour),
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, Config{Port: 8081})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	server := newTestServer(t, Config{
		Port:        8081,
		AuthEnabled: true,
		APIKeys:     []string{"test-key-123", "another-key"},
	})
	router := server.Router()

	tests := []struct {
		name       string
		apiKey     string
		keyHeader  string
		wantStatus int
	}{
		{
			name:       "no key",
			apiKey:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid key",
			apiKey:     "wrong-key",
			keyHeader:  "X-API-Key",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "valid key via X-API-Key",
			apiKey:     "test-key-123",
			keyHeader:  "X-API-Key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid key via Bearer",
			apiKey:     "another-key",
			keyHeader:  "Authorization",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/store/stats", nil)
			switch tt.keyHeader {
			case "X-API-Key":
				req.Header.Set("X-API-Key", tt.apiKey)
			case "Authorization":
				req.Header.Set("Authorization", "Bearer "+tt.apiKey)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthSkipsHealth(t *testing.T) {
	server := newTestServer(t, Config{AuthEnabled: true, APIKeys: []string{"k"}})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health should not require auth, got %d", rec.Code)
	}
}

func TestIngestAndGetFlights(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	body, _ := json.Marshal(rawBatch())
	req := httptest.NewRequest(http.MethodPost, "/flights/otp/arrivals", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res ingest.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Saved != 3 || res.Normalized != 3 {
		t.Errorf("saved=%d normalized=%d, want 3/3", res.Saved, res.Normalized)
	}

	req = httptest.NewRequest(http.MethodGet, "/flights/OTP/arrivals", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", rec.Code, rec.Body.String())
	}

	var flights FlightsResponse
	if err := json.NewDecoder(rec.Body).Decode(&flights); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if flights.Count != 3 {
		t.Errorf("count = %d, want 3", flights.Count)
	}
	if flights.Source != "cache" {
		t.Errorf("source = %q, want cache for today's data", flights.Source)
	}
}

func TestGetFlightsUnknownDate(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/flights/OTP/arrivals?date=2020-01-01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing snapshot, got %d", rec.Code)
	}
}

func TestGetFlightsRejectsBadType(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/flights/OTP/cargo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown flight type, got %d", rec.Code)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	// No data yet: statistics null plus the explanatory message.
	req := httptest.NewRequest(http.MethodGet, "/statistics/XYZ", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even without data", rec.Code)
	}
	var empty stats.Result
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if empty.Statistics != nil || empty.Message == "" {
		t.Errorf("expected null statistics with message, got %+v", empty)
	}

	body, _ := json.Marshal(rawBatch())
	req = httptest.NewRequest(http.MethodPost, "/flights/OTP/arrivals", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/statistics/OTP", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var res stats.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Statistics == nil {
		t.Fatalf("expected statistics after ingest, got message %q", res.Message)
	}
	if res.Statistics.TotalFlights != 3 {
		t.Errorf("total = %d, want 3", res.Statistics.TotalFlights)
	}
	if res.Statistics.CancelledFlights != 1 {
		t.Errorf("cancelled = %d, want 1", res.Statistics.CancelledFlights)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	body, _ := json.Marshal(rawBatch())
	req := httptest.NewRequest(http.MethodPost, "/flights/OTP/departures", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	req = httptest.NewRequest(http.MethodGet, "/quota", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep quota.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rep.MonthRequests != 1 {
		t.Errorf("month requests = %d, want 1", rep.MonthRequests)
	}
}

func TestPurgeRequiresDays(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	req := httptest.NewRequest(http.MethodPost, "/maintenance/purge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without days, got %d", rec.Code)
	}
}

func TestArchiveUnconfigured(t *testing.T) {
	server := newTestServer(t, Config{})
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/archive/OTP/routes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without archive, got %d", rec.Code)
	}
}
