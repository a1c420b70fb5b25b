// Package flight defines the core flight movement model shared by the
// snapshot store, the hot cache and the statistics aggregator.
package flight

import "time"

// Type identifies the direction of a flight movement at an airport.
type Type string

const (
	TypeArrivals   Type = "arrivals"
	TypeDepartures Type = "departures"
)

// Valid reports whether t is one of the two known flight types.
func (t Type) Valid() bool {
	return t == TypeArrivals || t == TypeDepartures
}

// ParseType normalizes a flight type string. Unknown values return
// TypeArrivals and false.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeArrivals:
		return TypeArrivals, true
	case TypeDepartures:
		return TypeDepartures, true
	}
	return TypeArrivals, false
}

// Source identifies where a snapshot's data came from.
type Source string

const (
	SourceAPI   Source = "api"
	SourceCache Source = "cache"
)

// Record represents one observed flight movement.
type Record struct {
	FlightNumber    string     `json:"flight_number"`
	AirlineCode     string     `json:"airline_code"`
	AirlineName     string     `json:"airline_name,omitempty"`
	OriginCode      string     `json:"origin_code"`
	OriginName      string     `json:"origin_name,omitempty"`
	DestinationCode string     `json:"destination_code"`
	DestinationName string     `json:"destination_name,omitempty"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	ActualTime      *time.Time `json:"actual_time,omitempty"`
	EstimatedTime   *time.Time `json:"estimated_time,omitempty"`
	Status          Status     `json:"status"`
	DelayMinutes    int        `json:"delay_minutes"`
}

// Valid reports whether the record carries the minimum metadata required
// for persistence: flight number, airline code, both airport codes, a
// scheduled time and a status.
func (r *Record) Valid() bool {
	return r.FlightNumber != "" &&
		r.AirlineCode != "" &&
		r.OriginCode != "" &&
		r.DestinationCode != "" &&
		!r.ScheduledTime.IsZero() &&
		r.Status != ""
}

// Snapshot is the unit of ingestion: the set of flights observed for one
// (airport, date, type) key at a given moment. At most one snapshot is
// durably stored per key; later snapshots for the same key only refresh
// the hot cache.
type Snapshot struct {
	Airport     string    `json:"airport"`
	RequestDate string    `json:"request_date"` // YYYY-MM-DD, date of the request, not of individual flights.
	RequestTime string    `json:"request_time"` // HH:MM:SS
	FlightType  Type      `json:"flight_type"`
	Source      Source    `json:"source"`
	Records     []Record  `json:"records"`
	ObservedAt  time.Time `json:"observed_at"`
}

// NewSnapshot builds a snapshot keyed by the request instant. The calendar
// date comes from now, not from the individual flights, so a late-evening
// fetch that includes next-morning flights still lands on today's key.
// The date is taken in UTC; every read path resolves "today" the same way.
func NewSnapshot(airport string, ft Type, source Source, records []Record, now time.Time) Snapshot {
	now = now.UTC()
	return Snapshot{
		Airport:     airport,
		RequestDate: now.Format("2006-01-02"),
		RequestTime: now.Format("15:04:05"),
		FlightType:  ft,
		Source:      source,
		Records:     records,
		ObservedAt:  now,
	}
}

// CacheKey composes the hot cache key for an (airport, type) pair.
func CacheKey(airport string, ft Type) string {
	return airport + "_" + string(ft)
}
