package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flighthist/internal/flight"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresStore is the snapshot store backend for deployments that already
// run PostgreSQL. Semantics are identical to SQLiteStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id            SERIAL PRIMARY KEY,
		airport       TEXT NOT NULL,
		request_date  TEXT NOT NULL,
		flight_type   TEXT NOT NULL,
		request_time  TEXT NOT NULL,
		data_source   TEXT NOT NULL,
		record_count  INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(airport, request_date, flight_type)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_airport ON snapshots(airport);
	CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(request_date);

	CREATE TABLE IF NOT EXISTS flights (
		id               SERIAL PRIMARY KEY,
		airport          TEXT NOT NULL,
		flight_number    TEXT NOT NULL,
		airline_code     TEXT NOT NULL,
		airline_name     TEXT,
		origin_code      TEXT NOT NULL,
		origin_name      TEXT,
		destination_code TEXT NOT NULL,
		destination_name TEXT,
		scheduled_time   TEXT NOT NULL,
		actual_time      TEXT,
		estimated_time   TEXT,
		status           TEXT NOT NULL,
		delay_minutes    INTEGER NOT NULL DEFAULT 0,
		flight_type      TEXT NOT NULL,
		request_date     TEXT NOT NULL,
		request_time     TEXT NOT NULL,
		data_source      TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(airport, request_date, flight_number, scheduled_time, flight_type)
	);

	CREATE INDEX IF NOT EXISTS idx_flights_airport_date ON flights(airport, request_date);
	CREATE INDEX IF NOT EXISTS idx_flights_type ON flights(flight_type);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// HasSnapshot reports whether a snapshot exists for the uniqueness key.
func (s *PostgresStore) HasSnapshot(ctx context.Context, airport, date string, ft flight.Type) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE airport = $1 AND request_date = $2 AND flight_type = $3`,
		airport, date, ft).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return n > 0, nil
}

// SaveSnapshot persists a snapshot inside a single transaction with
// ON CONFLICT DO NOTHING as the duplicate guard.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap flight.Snapshot) (SaveResult, error) {
	res := SaveResult{Attempted: len(snap.Records)}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	marker, err := tx.Exec(ctx, `
		INSERT INTO snapshots (airport, request_date, flight_type, request_time, data_source, record_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (airport, request_date, flight_type) DO NOTHING
	`, snap.Airport, snap.RequestDate, snap.FlightType, snap.RequestTime, snap.Source, len(snap.Records))
	if err != nil {
		return res, fmt.Errorf("insert snapshot: %w", err)
	}
	if marker.RowsAffected() == 0 {
		res.Duplicate = true
		log.Printf("storage: snapshot %s/%s/%s already present, skipping", snap.Airport, snap.RequestDate, snap.FlightType)
		return res, nil
	}

	for _, rec := range snap.Records {
		if !rec.Valid() {
			res.Skipped++
			log.Printf("storage: skipping invalid record %q for %s/%s", rec.FlightNumber, snap.Airport, snap.RequestDate)
			continue
		}

		r, err := tx.Exec(ctx, `
			INSERT INTO flights (
				airport, flight_number, airline_code, airline_name,
				origin_code, origin_name, destination_code, destination_name,
				scheduled_time, actual_time, estimated_time, status, delay_minutes,
				flight_type, request_date, request_time, data_source
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (airport, request_date, flight_number, scheduled_time, flight_type) DO NOTHING
		`, snap.Airport, rec.FlightNumber, rec.AirlineCode, rec.AirlineName,
			rec.OriginCode, rec.OriginName, rec.DestinationCode, rec.DestinationName,
			formatInstant(rec.ScheduledTime), formatOptInstant(rec.ActualTime), formatOptInstant(rec.EstimatedTime),
			rec.Status, rec.DelayMinutes,
			snap.FlightType, snap.RequestDate, snap.RequestTime, snap.Source)
		if err != nil {
			res.Skipped++
			log.Printf("storage: skipping record %q for %s/%s: %v", rec.FlightNumber, snap.Airport, snap.RequestDate, err)
			continue
		}
		if r.RowsAffected() > 0 {
			res.Saved++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{Attempted: res.Attempted}, fmt.Errorf("commit snapshot: %w", err)
	}
	return res, nil
}

// GetSnapshot returns stored records ordered by scheduled time ascending.
func (s *PostgresStore) GetSnapshot(ctx context.Context, airport, date string, ft flight.Type) ([]flight.Record, error) {
	rows, err := s.pool.Query(ctx, pgSelectFlightColumns+`
		FROM flights
		WHERE airport = $1 AND request_date = $2 AND flight_type = $3
		ORDER BY scheduled_time ASC
	`, airport, date, ft)
	if err != nil {
		log.Printf("storage: get snapshot %s/%s/%s: %v", airport, date, ft, err)
		return nil, nil
	}
	defer rows.Close()

	return scanPGRecords(rows)
}

// GetRange returns records across a date range.
func (s *PostgresStore) GetRange(ctx context.Context, airport, fromDate, toDate string, ft flight.Type) ([]flight.Record, error) {
	query := pgSelectFlightColumns + `
		FROM flights
		WHERE airport = $1 AND request_date >= $2 AND request_date <= $3`
	args := []any{airport, fromDate, toDate}
	if ft != "" {
		query += ` AND flight_type = $4`
		args = append(args, ft)
	}
	query += ` ORDER BY request_date ASC, scheduled_time ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		log.Printf("storage: get range %s %s..%s: %v", airport, fromDate, toDate, err)
		return nil, nil
	}
	defer rows.Close()

	return scanPGRecords(rows)
}

// ListAvailableDates returns snapshot dates for an airport, newest first.
func (s *PostgresStore) ListAvailableDates(ctx context.Context, airport string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT request_date FROM snapshots WHERE airport = $1 ORDER BY request_date DESC`, airport)
	if err != nil {
		log.Printf("storage: list dates %s: %v", airport, err)
		return nil, nil
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Stats returns aggregate statistics about the stored snapshots.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM flights`).Scan(&st.TotalRecords); err != nil {
		return st, fmt.Errorf("count records: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&st.TotalSnapshots); err != nil {
		return st, fmt.Errorf("count snapshots: %w", err)
	}

	var oldest, newest *string
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(request_date), MAX(request_date) FROM snapshots`).Scan(&oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("date bounds: %w", err)
	}
	if oldest != nil {
		st.OldestDate = *oldest
	}
	if newest != nil {
		st.NewestDate = *newest
	}

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT airport FROM snapshots ORDER BY airport`)
	if err != nil {
		return st, fmt.Errorf("covered airports: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return st, fmt.Errorf("scan airport: %w", err)
		}
		st.CoveredAirports = append(st.CoveredAirports, a)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	sort.Strings(st.CoveredAirports)

	if st.TotalRecords > 0 {
		var withActual int
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM flights WHERE actual_time IS NOT NULL AND actual_time != ''`).Scan(&withActual); err != nil {
			return st, fmt.Errorf("count actuals: %w", err)
		}
		st.DataQualityPercent = qualityPercent(withActual, st.TotalRecords)
	}

	return st, nil
}

// PurgeOlderThan deletes snapshots and their records older than now-days,
// atomically. Returns the number of snapshots deleted.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM flights WHERE request_date < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("purge flights: %w", err)
	}
	res, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE request_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	deleted := res.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return deleted, nil
}

// Pool returns the underlying connection pool for advanced operations.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

const pgSelectFlightColumns = `
	SELECT flight_number, airline_code, airline_name,
		origin_code, origin_name, destination_code, destination_name,
		scheduled_time, actual_time, estimated_time, status, delay_minutes`

func scanPGRecords(rows pgx.Rows) ([]flight.Record, error) {
	var records []flight.Record
	for rows.Next() {
		var rec flight.Record
		var airlineName, originName, destName, actual, estimated *string
		var scheduled string

		err := rows.Scan(&rec.FlightNumber, &rec.AirlineCode, &airlineName,
			&rec.OriginCode, &originName, &rec.DestinationCode, &destName,
			&scheduled, &actual, &estimated, &rec.Status, &rec.DelayMinutes)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if airlineName != nil {
			rec.AirlineName = *airlineName
		}
		if originName != nil {
			rec.OriginName = *originName
		}
		if destName != nil {
			rec.DestinationName = *destName
		}
		if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
			rec.ScheduledTime = t
		}
		if actual != nil && *actual != "" {
			if t, err := time.Parse(time.RFC3339, *actual); err == nil {
				rec.ActualTime = &t
			}
		}
		if estimated != nil && *estimated != "" {
			if t, err := time.Parse(time.RFC3339, *estimated); err == nil {
				rec.EstimatedTime = &t
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
