package flight

import (
	"errors"
	"math"
	"time"
)

// DefaultDelayedFallbackMinutes is assumed for a flight whose upstream
// status says delayed but which carries no usable timestamps. The value is
// product tuning, not protocol, so callers may override it via
// NormalizeOptions.
const DefaultDelayedFallbackMinutes = 30

// RawFlight is the upstream wire shape, consumed as an opaque input.
// Timestamps are ISO 8601 with offset; status is free text.
type RawFlight struct {
	FlightNumber string `json:"flight_number"`
	Airline      struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"airline"`
	Origin struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"origin"`
	Destination struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"destination"`
	ScheduledTime string `json:"scheduled_time"`
	ActualTime    string `json:"actual_time,omitempty"`
	EstimatedTime string `json:"estimated_time,omitempty"`
	Status        string `json:"status"`
	DelayMinutes  int    `json:"delay_minutes,omitempty"`
}

// NormalizeOptions tunes raw record normalization.
type NormalizeOptions struct {
	// DelayedFallbackMinutes is used when status is delayed and no
	// timestamps are available. Zero means DefaultDelayedFallbackMinutes.
	DelayedFallbackMinutes int
}

func (o NormalizeOptions) fallback() int {
	if o.DelayedFallbackMinutes > 0 {
		return o.DelayedFallbackMinutes
	}
	return DefaultDelayedFallbackMinutes
}

// Normalize converts a raw upstream flight into a Record: status is coerced
// to the closed enum and the delay is derived. Returns false when the raw
// record lacks the required metadata (no flight number, airline, airports
// or parseable scheduled time).
func Normalize(raw RawFlight, opts NormalizeOptions) (Record, bool) {
	scheduled, err := parseInstant(raw.ScheduledTime)
	if err != nil {
		return Record{}, false
	}

	rec := Record{
		FlightNumber:    raw.FlightNumber,
		AirlineCode:     raw.Airline.Code,
		AirlineName:     raw.Airline.Name,
		OriginCode:      raw.Origin.Code,
		OriginName:      raw.Origin.Name,
		DestinationCode: raw.Destination.Code,
		DestinationName: raw.Destination.Name,
		ScheduledTime:   scheduled,
		Status:          ParseStatus(raw.Status),
	}

	if t, err := parseInstant(raw.ActualTime); err == nil {
		rec.ActualTime = &t
	}
	if t, err := parseInstant(raw.EstimatedTime); err == nil {
		rec.EstimatedTime = &t
	}

	rec.DelayMinutes = DeriveDelay(raw.DelayMinutes, scheduled, rec.ActualTime, rec.EstimatedTime, rec.Status, opts.fallback())

	if !rec.Valid() {
		return Record{}, false
	}
	return rec, true
}

// DeriveDelay computes the non-negative delay in minutes. Priority:
// an explicit positive delay from upstream, then the rounded difference
// between the actual (or estimated) time and the scheduled time, then the
// fallback when the status alone says delayed, otherwise zero.
func DeriveDelay(explicit int, scheduled time.Time, actual, estimated *time.Time, status Status, fallbackMinutes int) int {
	if explicit > 0 {
		return explicit
	}

	observed := actual
	if observed == nil {
		observed = estimated
	}
	if observed != nil && !scheduled.IsZero() {
		mins := int(math.Round(observed.Sub(scheduled).Minutes()))
		if mins < 0 {
			mins = 0
		}
		return mins
	}

	if status == StatusDelayed {
		return fallbackMinutes
	}
	return 0
}

var errEmptyInstant = errors.New("empty timestamp")

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errEmptyInstant
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Some feeds omit seconds.
		t, err = time.Parse("2006-01-02T15:04Z07:00", s)
	}
	return t, err
}
