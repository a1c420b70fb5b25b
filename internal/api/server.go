// Package api provides REST API endpoints for flight history and
// statistics data.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/ingest"
	"flighthist/internal/quota"
	"flighthist/internal/stats"
	"flighthist/internal/storage"
)

// Server provides REST API access to the flight history subsystem.
type Server struct {
	store       storage.Store
	cache       *hotcache.Cache
	pipe        *ingest.Pipeline
	agg         *stats.Aggregator
	tracker     *quota.Tracker
	archive     *storage.Archive
	port        int
	authEnabled bool
	apiKeys     map[string]bool // Simple API key auth (when enabled).
}

// Config holds configuration for the API server.
type Config struct {
	Port        int
	AuthEnabled bool
	APIKeys     []string // List of valid API keys.
}

// Deps bundles the collaborators the server exposes. archive and tracker
// may be nil; their endpoints then report unavailability.
type Deps struct {
	Store    storage.Store
	Cache    *hotcache.Cache
	Pipeline *ingest.Pipeline
	Stats    *stats.Aggregator
	Tracker  *quota.Tracker
	Archive  *storage.Archive
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &Server{
		store:       deps.Store,
		cache:       deps.Cache,
		pipe:        deps.Pipeline,
		agg:         deps.Stats,
		tracker:     deps.Tracker,
		archive:     deps.Archive,
		port:        cfg.Port,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for browser access.
	r.Use(corsMiddleware)

	r.Mount("/api/v1", s.Router())

	addr := ":" + strconv.Itoa(s.port)
	log.Printf("Flight history API starting at http://localhost%s", addr)
	if s.authEnabled {
		log.Printf("Authentication: ENABLED (API key required)")
	} else {
		log.Printf("Authentication: DISABLED (open access)")
	}

	return http.ListenAndServe(addr, r)
}

// Router returns the configured chi router for embedding in other servers
// and for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Health check (no auth required).
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		// Optional authentication.
		if s.authEnabled {
			r.Use(s.authMiddleware)
		}

		r.Get("/flights/{airport}/{type}", s.handleGetFlights)
		r.Post("/flights/{airport}/{type}", s.handleIngestFlights)

		r.Get("/statistics/{airport}", s.handleStatistics)
		r.Get("/statistics/{airport}/routes", s.handleRoutes)
		r.Get("/statistics/{airport}/weekly", s.handleWeekly)

		r.Get("/store/stats", s.handleStoreStats)
		r.Get("/dates/{airport}", s.handleDates)
		r.Get("/quota", s.handleQuota)

		r.Get("/archive/{airport}/routes", s.handleArchiveRoutes)
		r.Get("/archive/{airport}/punctuality", s.handleArchivePunctuality)

		r.Post("/maintenance/purge", s.handlePurge)
	})

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		// Fall back to query parameter (for simple testing).
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// FlightsResponse is the JSON response for flight list queries.
type FlightsResponse struct {
	Airport    string          `json:"airport"`
	FlightType string          `json:"flight_type"`
	Date       string          `json:"date"`
	Source     string          `json:"source"`
	Count      int             `json:"count"`
	Flights    []flight.Record `json:"flights"`
}

func (s *Server) handleGetFlights(w http.ResponseWriter, r *http.Request) {
	airport, ft, ok := flightParams(w, r)
	if !ok {
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = today
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}

	resp := FlightsResponse{
		Airport:    airport,
		FlightType: string(ft),
		Date:       date,
	}

	// Today's data comes from the hot cache when fresh; historical dates
	// always hit the store.
	if date == today && s.cache != nil {
		if records, hit := s.cache.GetWithPersistent(r.Context(), flight.CacheKey(airport, ft)); hit {
			resp.Source = string(flight.SourceCache)
			resp.Count = len(records)
			resp.Flights = records
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	records, err := s.store.GetSnapshot(r.Context(), airport, date, ft)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		has, herr := s.store.HasSnapshot(r.Context(), airport, date, ft)
		if herr == nil && !has {
			writeError(w, http.StatusNotFound, "No snapshot for this airport and date")
			return
		}
		records = []flight.Record{}
	}

	resp.Source = string(flight.SourceAPI)
	resp.Count = len(records)
	resp.Flights = records
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngestFlights(w http.ResponseWriter, r *http.Request) {
	airport, ft, ok := flightParams(w, r)
	if !ok {
		return
	}

	var raws []flight.RawFlight
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	res, err := s.pipe.Ingest(r.Context(), airport, ft, raws)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	if airport == "" {
		writeError(w, http.StatusBadRequest, "airport is required")
		return
	}

	includeHistory := r.URL.Query().Get("history") != "false"
	res := s.agg.AirportStatistics(r.Context(), airport, includeHistory)

	// Insufficient data is a normal outcome, not an error status.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	if airport == "" {
		writeError(w, http.StatusBadRequest, "airport is required")
		return
	}

	includeHistory := r.URL.Query().Get("history") != "false"
	routes := s.agg.Routes(r.Context(), airport, includeHistory)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"airport": airport,
		"count":   len(routes),
		"routes":  routes,
	})
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	if airport == "" {
		writeError(w, http.StatusBadRequest, "airport is required")
		return
	}

	writeJSON(w, http.StatusOK, s.agg.WeeklySchedule(r.Context(), airport))
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	if airport == "" {
		writeError(w, http.StatusBadRequest, "airport is required")
		return
	}

	dates, err := s.store.ListAvailableDates(r.Context(), airport)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dates == nil {
		dates = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"airport": airport,
		"count":   len(dates),
		"dates":   dates,
	})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "Request tracking not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleArchiveRoutes(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "Archive not configured")
		return
	}
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	days := queryInt(r, "days", 90)
	limit := queryInt(r, "limit", 15)

	routes, err := s.archive.TopRoutes(r.Context(), airport, days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"airport": airport,
		"days":    days,
		"routes":  routes,
	})
}

func (s *Server) handleArchivePunctuality(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "Archive not configured")
		return
	}
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	days := queryInt(r, "days", 90)
	threshold := queryInt(r, "threshold", stats.DefaultDelayedThresholdMinutes)

	trend, err := s.archive.PunctualityTrend(r.Context(), airport, days, threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"airport": airport,
		"days":    days,
		"trend":   trend,
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 0)
	if days <= 0 {
		writeError(w, http.StatusBadRequest, "days query parameter is required and must be positive")
		return
	}

	deleted, err := s.store.PurgeOlderThan(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_snapshots": deleted,
		"older_than_days":   days,
	})
}

// Helper functions.

func flightParams(w http.ResponseWriter, r *http.Request) (string, flight.Type, bool) {
	airport := strings.ToUpper(chi.URLParam(r, "airport"))
	if airport == "" {
		writeError(w, http.StatusBadRequest, "airport is required")
		return "", "", false
	}

	ft, ok := flight.ParseType(chi.URLParam(r, "type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "flight type must be arrivals or departures")
		return "", "", false
	}

	return airport, ft, true
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
