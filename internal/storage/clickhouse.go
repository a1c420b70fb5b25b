package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flighthist/internal/flight"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Archive mirrors flight movements into ClickHouse for long-horizon
// analytics beyond the SQLite retention window. It is an optional sink:
// the snapshot store works without it.
type Archive struct {
	conn driver.Conn
}

// OpenArchive opens a connection to ClickHouse and ensures the schema.
func OpenArchive(ctx context.Context, cfg ClickHouseConfig) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	a := &Archive{conn: conn}
	if err := a.createSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return a, nil
}

// Close closes the ClickHouse connection.
func (a *Archive) Close() error {
	return a.conn.Close()
}

func (a *Archive) createSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS flight_movements (
		airport          LowCardinality(String),
		flight_number    LowCardinality(String),
		airline_code     LowCardinality(String),
		origin_code      LowCardinality(String),
		destination_code LowCardinality(String),
		scheduled_time   DateTime64(0),
		status           LowCardinality(String),
		delay_minutes    Int32,
		flight_type      LowCardinality(String),
		request_date     Date,
		recorded_at      DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(request_date)
	ORDER BY (airport, request_date, flight_type, scheduled_time)
	SETTINGS index_granularity = 8192`

	if err := a.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create flight_movements: %w", err)
	}
	return nil
}

// ArchiveSnapshot appends all records of a snapshot to the archive. The
// MergeTree table is append-only; deduplication belongs to the snapshot
// store, not the archive.
func (a *Archive) ArchiveSnapshot(ctx context.Context, snap flight.Snapshot) error {
	if len(snap.Records) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `INSERT INTO flight_movements (
		airport, flight_number, airline_code, origin_code, destination_code,
		scheduled_time, status, delay_minutes, flight_type, request_date)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	reqDate, err := time.Parse("2006-01-02", snap.RequestDate)
	if err != nil {
		return fmt.Errorf("parse request date: %w", err)
	}

	for _, rec := range snap.Records {
		if err := batch.Append(
			snap.Airport, rec.FlightNumber, rec.AirlineCode,
			rec.OriginCode, rec.DestinationCode,
			rec.ScheduledTime, string(rec.Status), int32(rec.DelayMinutes),
			string(snap.FlightType), reqDate,
		); err != nil {
			return fmt.Errorf("append record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RouteCount is one row of a top-routes aggregation.
type RouteCount struct {
	OriginCode      string  `json:"origin_code"`
	DestinationCode string  `json:"destination_code"`
	Flights         uint64  `json:"flights"`
	AvgDelay        float64 `json:"avg_delay"`
}

// TopRoutes returns the most frequent routes touching an airport over the
// trailing sinceDays window.
func (a *Archive) TopRoutes(ctx context.Context, airport string, sinceDays, limit int) ([]RouteCount, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT origin_code, destination_code, count() AS flights, avg(delay_minutes) AS avg_delay
		FROM flight_movements
		WHERE airport = ? AND request_date >= today() - ?
		GROUP BY origin_code, destination_code
		ORDER BY flights DESC
		LIMIT ?
	`, airport, sinceDays, limit)
	if err != nil {
		return nil, fmt.Errorf("query top routes: %w", err)
	}
	defer rows.Close()

	var routes []RouteCount
	for rows.Next() {
		var r RouteCount
		if err := rows.Scan(&r.OriginCode, &r.DestinationCode, &r.Flights, &r.AvgDelay); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// DailyPunctuality is one day of the punctuality trend.
type DailyPunctuality struct {
	Date          time.Time `json:"date"`
	Flights       uint64    `json:"flights"`
	OnTimePercent float64   `json:"on_time_percent"`
}

// PunctualityTrend returns per-day on-time percentages for an airport over
// the trailing sinceDays window, using the given delayed threshold.
func (a *Archive) PunctualityTrend(ctx context.Context, airport string, sinceDays, delayedThresholdMinutes int) ([]DailyPunctuality, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT request_date,
			count() AS flights,
			100.0 * countIf(status != 'cancelled' AND delay_minutes <= ?) / count() AS on_time_percent
		FROM flight_movements
		WHERE airport = ? AND request_date >= today() - ?
		GROUP BY request_date
		ORDER BY request_date
	`, delayedThresholdMinutes, airport, sinceDays)
	if err != nil {
		return nil, fmt.Errorf("query punctuality trend: %w", err)
	}
	defer rows.Close()

	var trend []DailyPunctuality
	for rows.Next() {
		var d DailyPunctuality
		if err := rows.Scan(&d.Date, &d.Flights, &d.OnTimePercent); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		trend = append(trend, d)
	}
	return trend, rows.Err()
}
