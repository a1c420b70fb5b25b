// Package stats derives airport performance metrics from accumulated
// flight data. It never fabricates numbers: when no data is available it
// says so explicitly instead of interpolating.
package stats

import (
	"context"
	"math"
	"sort"
	"time"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/storage"
)

// InsufficientDataMessage is the stable message returned when zero flights
// are available for an airport. The presentation layer shows it verbatim.
const InsufficientDataMessage = "insufficient data to display this information"

const (
	// DefaultDelayedThresholdMinutes is the delay above which a flight
	// counts as delayed rather than on-time.
	DefaultDelayedThresholdMinutes = 15
	// DefaultHistoryDays is the trailing store window unioned with the
	// hot cache when history is requested.
	DefaultHistoryDays = 7
	// DefaultTopRoutes caps the route frequency table.
	DefaultTopRoutes = 15
)

// Config tunes the aggregator. Zero values select the defaults.
type Config struct {
	DelayedThresholdMinutes int
	HistoryDays             int
	TopRoutes               int
}

func (c Config) withDefaults() Config {
	if c.DelayedThresholdMinutes <= 0 {
		c.DelayedThresholdMinutes = DefaultDelayedThresholdMinutes
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = DefaultHistoryDays
	}
	if c.TopRoutes <= 0 {
		c.TopRoutes = DefaultTopRoutes
	}
	return c
}

// AirportStatistics is derived on demand, never stored durably.
type AirportStatistics struct {
	Airport             string    `json:"airport"`
	TotalFlights        int       `json:"total_flights"`
	OnTimeFlights       int       `json:"on_time_flights"`
	DelayedFlights      int       `json:"delayed_flights"`
	CancelledFlights    int       `json:"cancelled_flights"`
	OnTimePercentage    int       `json:"on_time_percentage"`
	AverageDelayMinutes int       `json:"average_delay_minutes"`
	DailyFlights        int       `json:"daily_flights"`
	ComputedAt          time.Time `json:"computed_at"`
}

// Result wraps statistics so that "no data" travels as a first-class
// value: Statistics is nil and Message carries the explanation.
type Result struct {
	Statistics *AirportStatistics `json:"statistics"`
	Message    string             `json:"message,omitempty"`
}

// Route is one entry of the route frequency table. Airports holds the
// unordered pair; Airlines the set of carriers observed on it.
type Route struct {
	Airports            [2]string `json:"airports"`
	FlightCount         int       `json:"flight_count"`
	AverageDelayMinutes int       `json:"average_delay_minutes"`
	OnTimePercentage    int       `json:"on_time_percentage"`
	Airlines            []string  `json:"airlines"`
}

// Aggregator reads the hot cache and the snapshot store and computes
// metrics. The store may be nil when only cached data should be used.
type Aggregator struct {
	cache *hotcache.Cache
	store storage.Store
	cfg   Config
	now   func() time.Time
}

// New creates an Aggregator.
func New(cache *hotcache.Cache, store storage.Store, cfg Config) *Aggregator {
	return &Aggregator{
		cache: cache,
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// AirportStatistics computes the punctuality metrics for an airport.
// When includeHistory is set, the trailing store window is unioned with
// the hot cache; otherwise only cached data is used.
func (a *Aggregator) AirportStatistics(ctx context.Context, airport string, includeHistory bool) Result {
	records := a.gather(ctx, airport, includeHistory)
	if len(records) == 0 {
		return Result{Message: InsufficientDataMessage}
	}

	st := &AirportStatistics{
		Airport:      airport,
		TotalFlights: len(records),
		ComputedAt:   a.now(),
	}

	delaySum := 0
	for _, rec := range records {
		switch a.classify(rec) {
		case classCancelled:
			st.CancelledFlights++
		case classDelayed:
			st.DelayedFlights++
			delaySum += rec.DelayMinutes
		default:
			st.OnTimeFlights++
		}
	}

	// Punctuality is the share of flights that did not run late;
	// cancellations are reported separately and do not drag it down.
	st.OnTimePercentage = roundPercent(st.TotalFlights-st.DelayedFlights, st.TotalFlights)
	if st.DelayedFlights > 0 {
		st.AverageDelayMinutes = roundDiv(delaySum, st.DelayedFlights)
	}
	st.DailyFlights = roundDiv(st.TotalFlights, a.cfg.HistoryDays)

	return Result{Statistics: st}
}

// Routes computes the route frequency table for an airport: flights
// grouped by unordered airport pair, sorted by count, truncated to the
// configured top size. Self-loops and records missing either code are
// excluded from grouping.
func (a *Aggregator) Routes(ctx context.Context, airport string, includeHistory bool) []Route {
	records := a.gather(ctx, airport, includeHistory)

	type group struct {
		pair     [2]string
		count    int
		delayed  int
		delaySum int
		airlines map[string]struct{}
	}
	groups := make(map[[2]string]*group)

	for _, rec := range records {
		if rec.OriginCode == "" || rec.DestinationCode == "" || rec.OriginCode == rec.DestinationCode {
			continue
		}
		pair := routePair(rec.OriginCode, rec.DestinationCode)
		g, ok := groups[pair]
		if !ok {
			g = &group{pair: pair, airlines: make(map[string]struct{})}
			groups[pair] = g
		}
		g.count++
		if rec.AirlineCode != "" {
			g.airlines[rec.AirlineCode] = struct{}{}
		}
		if a.classify(rec) == classDelayed {
			g.delayed++
			g.delaySum += rec.DelayMinutes
		}
	}

	routes := make([]Route, 0, len(groups))
	for _, g := range groups {
		r := Route{
			Airports:         g.pair,
			FlightCount:      g.count,
			OnTimePercentage: roundPercent(g.count-g.delayed, g.count),
		}
		if g.delayed > 0 {
			r.AverageDelayMinutes = roundDiv(g.delaySum, g.delayed)
		}
		for code := range g.airlines {
			r.Airlines = append(r.Airlines, code)
		}
		sort.Strings(r.Airlines)
		routes = append(routes, r)
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].FlightCount != routes[j].FlightCount {
			return routes[i].FlightCount > routes[j].FlightCount
		}
		if routes[i].Airports[0] != routes[j].Airports[0] {
			return routes[i].Airports[0] < routes[j].Airports[0]
		}
		return routes[i].Airports[1] < routes[j].Airports[1]
	})
	if len(routes) > a.cfg.TopRoutes {
		routes = routes[:a.cfg.TopRoutes]
	}
	return routes
}

type class int

const (
	classOnTime class = iota
	classDelayed
	classCancelled
)

// classify places a record in exactly one bucket. Cancelled wins over
// delayed.
func (a *Aggregator) classify(rec flight.Record) class {
	if rec.Status == flight.StatusCancelled {
		return classCancelled
	}
	if rec.DelayMinutes > a.cfg.DelayedThresholdMinutes {
		return classDelayed
	}
	return classOnTime
}

// gather unions the hot cache (both directions) with the trailing store
// window, deduplicated by flight number and scheduled time.
func (a *Aggregator) gather(ctx context.Context, airport string, includeHistory bool) []flight.Record {
	var records []flight.Record
	seen := make(map[string]struct{})

	add := func(recs []flight.Record) {
		for _, rec := range recs {
			key := rec.FlightNumber + "|" + rec.ScheduledTime.UTC().Format(time.RFC3339)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
		}
	}

	if a.cache != nil {
		for _, ft := range []flight.Type{flight.TypeArrivals, flight.TypeDepartures} {
			if recs, ok := a.cache.GetWithPersistent(ctx, flight.CacheKey(airport, ft)); ok {
				add(recs)
			}
		}
	}

	if includeHistory && a.store != nil {
		now := a.now().UTC()
		from := now.AddDate(0, 0, -a.cfg.HistoryDays).Format("2006-01-02")
		to := now.Format("2006-01-02")
		recs, err := a.store.GetRange(ctx, airport, from, to, "")
		if err == nil {
			add(recs)
		}
	}

	return records
}

func routePair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func roundPercent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func roundDiv(sum, n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
