package stats

import (
	"context"
	"time"
)

// WeekdayCount is the flight volume observed on one day of the week.
type WeekdayCount struct {
	Weekday string `json:"weekday"`
	Flights int    `json:"flights"`
}

// WeeklySchedule summarizes how an airport's traffic spreads across the
// week, derived from the accumulated snapshot history.
type WeeklySchedule struct {
	Airport      string         `json:"airport"`
	Days         []WeekdayCount `json:"days"`
	BusiestDay   string         `json:"busiest_day,omitempty"`
	QuietestDay  string         `json:"quietest_day,omitempty"`
	TotalFlights int            `json:"total_flights"`
}

// WeeklySchedule computes per-weekday counts over the trailing store
// window. Days run Monday through Sunday. With no data, Days is still
// populated with zero counts and the busiest/quietest fields stay empty.
func (a *Aggregator) WeeklySchedule(ctx context.Context, airport string) WeeklySchedule {
	sched := WeeklySchedule{Airport: airport}

	counts := make(map[time.Weekday]int)
	if a.store != nil {
		now := a.now().UTC()
		from := now.AddDate(0, 0, -a.cfg.HistoryDays).Format("2006-01-02")
		to := now.Format("2006-01-02")
		recs, err := a.store.GetRange(ctx, airport, from, to, "")
		if err == nil {
			for _, rec := range recs {
				counts[rec.ScheduledTime.UTC().Weekday()]++
				sched.TotalFlights++
			}
		}
	}

	weekdays := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
	busiest, quietest := -1, -1
	for i, wd := range weekdays {
		n := counts[wd]
		sched.Days = append(sched.Days, WeekdayCount{Weekday: wd.String(), Flights: n})
		if busiest < 0 || n > sched.Days[busiest].Flights {
			busiest = i
		}
		if quietest < 0 || n < sched.Days[quietest].Flights {
			quietest = i
		}
	}
	if sched.TotalFlights > 0 {
		sched.BusiestDay = sched.Days[busiest].Weekday
		sched.QuietestDay = sched.Days[quietest].Weekday
	}
	return sched
}
