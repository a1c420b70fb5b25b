package flight

import "testing"

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"scheduled", StatusScheduled},
		{"Scheduled", StatusScheduled},
		{"EXPECTED", StatusScheduled},
		{"landed", StatusLanded},
		{"arrived", StatusArrived},
		{"departed", StatusDeparted},
		{"TakeOff", StatusDeparted},
		{"en route", StatusActive},
		{"en_route", StatusActive},
		{"airborne", StatusActive},
		{"delayed", StatusDelayed},
		{"Late", StatusDelayed},
		{"cancelled", StatusCancelled},
		{"canceled", StatusCancelled},
		{"boarding", StatusBoarding},
		{"Gate Closed", StatusGateClosed},
		{"final call", StatusGateClosed},
		{"taxi", StatusTaxiing},
		{"", StatusUnknown},
		{"diverted", StatusUnknown},
		{"some nonsense the API made up", StatusUnknown},
	}

	for _, tt := range tests {
		if got := ParseStatus(tt.in); got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	if ft, ok := ParseType("arrivals"); !ok || ft != TypeArrivals {
		t.Errorf("ParseType(arrivals) = %q, %v", ft, ok)
	}
	if ft, ok := ParseType("departures"); !ok || ft != TypeDepartures {
		t.Errorf("ParseType(departures) = %q, %v", ft, ok)
	}
	if _, ok := ParseType("overflights"); ok {
		t.Error("ParseType(overflights) should not be valid")
	}
}
