package flight

import "strings"

// Status is the closed movement status enumeration. Upstream APIs send
// open-ended text; everything is coerced through ParseStatus so the rest
// of the system never sees a free-form string.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusActive     Status = "active"
	StatusLanded     Status = "landed"
	StatusArrived    Status = "arrived"
	StatusDeparted   Status = "departed"
	StatusDelayed    Status = "delayed"
	StatusCancelled  Status = "cancelled"
	StatusBoarding   Status = "boarding"
	StatusGateClosed Status = "gate-closed"
	StatusTaxiing    Status = "taxiing"
	StatusUnknown    Status = "unknown"
)

// statusAliases maps normalized upstream status text to the closed enum.
// Keys are lower-case with spaces and underscores collapsed to hyphens.
var statusAliases = map[string]Status{
	"scheduled":   StatusScheduled,
	"expected":    StatusScheduled,
	"active":      StatusActive,
	"en-route":    StatusActive,
	"enroute":     StatusActive,
	"airborne":    StatusActive,
	"in-air":      StatusActive,
	"landed":      StatusLanded,
	"arrived":     StatusArrived,
	"departed":    StatusDeparted,
	"take-off":    StatusDeparted,
	"takeoff":     StatusDeparted,
	"delayed":     StatusDelayed,
	"delay":       StatusDelayed,
	"late":        StatusDelayed,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"cancelhold":  StatusCancelled,
	"boarding":    StatusBoarding,
	"gate-closed": StatusGateClosed,
	"gateclosed":  StatusGateClosed,
	"final-call":  StatusGateClosed,
	"taxiing":     StatusTaxiing,
	"taxi":        StatusTaxiing,
	"unknown":     StatusUnknown,
}

// ParseStatus coerces free-text upstream status into the closed enum.
// Unrecognized values map to StatusUnknown rather than failing.
func ParseStatus(s string) Status {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	key = strings.ReplaceAll(key, " ", "-")
	if st, ok := statusAliases[key]; ok {
		return st
	}
	return StatusUnknown
}
