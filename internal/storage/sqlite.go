package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flighthist/internal/flight"
)

// SQLiteStore is the primary snapshot store backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite snapshot store at the given path.
// An empty path uses an in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: the pragmas below apply to every statement and an
	// in-memory database stays shared across the pool.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// createSchema creates the database tables and indices.
func createSchema(db *sql.DB) error {
	schema := `
	-- One row per ingested snapshot. The UNIQUE constraint is the primary
	-- defense against duplicate ingestion; the HasSnapshot check is only an
	-- optimization on top of it.
	CREATE TABLE IF NOT EXISTS snapshots (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		airport       TEXT NOT NULL,
		request_date  TEXT NOT NULL,
		flight_type   TEXT NOT NULL,
		request_time  TEXT NOT NULL,
		data_source   TEXT NOT NULL,
		record_count  INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(airport, request_date, flight_type)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_airport ON snapshots(airport);
	CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(request_date);

	CREATE TABLE IF NOT EXISTS flights (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
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
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(airport, request_date, flight_number, scheduled_time, flight_type)
	);

	CREATE INDEX IF NOT EXISTS idx_flights_airport_date ON flights(airport, request_date);
	CREATE INDEX IF NOT EXISTS idx_flights_type ON flights(flight_type);
	CREATE INDEX IF NOT EXISTS idx_flights_scheduled ON flights(scheduled_time);

	-- Persistent mirror of the hot cache so the most recent fetch survives
	-- process restarts.
	CREATE TABLE IF NOT EXISTS hot_cache (
		key         TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		fetched_at  TEXT NOT NULL,
		ttl_seconds INTEGER NOT NULL,
		updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Run migrations for existing databases.
	return migrateSchema(db)
}

// migrateSchema adds new columns to existing databases.
func migrateSchema(db *sql.DB) error {
	// Check if estimated_time column exists.
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('flights') WHERE name='estimated_time'`).Scan(&count)
	if err != nil {
		return err
	}

	if count == 0 {
		migrations := []string{
			`ALTER TABLE flights ADD COLUMN estimated_time TEXT`,
			`ALTER TABLE flights ADD COLUMN airline_name TEXT`,
			`ALTER TABLE flights ADD COLUMN origin_name TEXT`,
			`ALTER TABLE flights ADD COLUMN destination_name TEXT`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				// Ignore "duplicate column" errors for idempotency.
				if !strings.Contains(err.Error(), "duplicate column") {
					return err
				}
			}
		}
	}

	return nil
}

// HasSnapshot reports whether a snapshot exists for the uniqueness key.
func (s *SQLiteStore) HasSnapshot(ctx context.Context, airport, date string, ft flight.Type) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE airport = ? AND request_date = ? AND flight_type = ?`,
		airport, date, ft).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return n > 0, nil
}

// SaveSnapshot persists a snapshot inside a single transaction. A snapshot
// already present for the key is skipped as an idempotent no-op. Individual
// malformed records are skipped without aborting the batch; transaction-level
// failures propagate since losing a whole ingestion silently would corrupt
// the accumulation record.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap flight.Snapshot) (SaveResult, error) {
	res := SaveResult{Attempted: len(snap.Records)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// INSERT OR IGNORE on the UNIQUE key is the authoritative duplicate
	// guard; zero rows affected means another ingestion got here first.
	marker, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO snapshots (airport, request_date, flight_type, request_time, data_source, record_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.Airport, snap.RequestDate, snap.FlightType, snap.RequestTime, snap.Source, len(snap.Records))
	if err != nil {
		return res, fmt.Errorf("insert snapshot: %w", err)
	}
	if n, err := marker.RowsAffected(); err == nil && n == 0 {
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

		r, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO flights (
				airport, flight_number, airline_code, airline_name,
				origin_code, origin_name, destination_code, destination_name,
				scheduled_time, actual_time, estimated_time, status, delay_minutes,
				flight_type, request_date, request_time, data_source
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		if n, err := r.RowsAffected(); err == nil && n > 0 {
			res.Saved++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{Attempted: res.Attempted}, fmt.Errorf("commit snapshot: %w", err)
	}
	return res, nil
}

// GetSnapshot returns the stored records for one key, ordered by scheduled
// time ascending. Read failures degrade to an empty result with a logged
// error rather than propagating.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, airport, date string, ft flight.Type) ([]flight.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectFlightColumns+`
		FROM flights
		WHERE airport = ? AND request_date = ? AND flight_type = ?
		ORDER BY scheduled_time ASC
	`, airport, date, ft)
	if err != nil {
		log.Printf("storage: get snapshot %s/%s/%s: %v", airport, date, ft, err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// GetRange returns records across a date range, ordered by (date, scheduled
// time). An empty flight type matches both directions.
func (s *SQLiteStore) GetRange(ctx context.Context, airport, fromDate, toDate string, ft flight.Type) ([]flight.Record, error) {
	query := selectFlightColumns + `
		FROM flights
		WHERE airport = ? AND request_date >= ? AND request_date <= ?`
	args := []any{airport, fromDate, toDate}
	if ft != "" {
		query += ` AND flight_type = ?`
		args = append(args, ft)
	}
	query += ` ORDER BY request_date ASC, scheduled_time ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Printf("storage: get range %s %s..%s: %v", airport, fromDate, toDate, err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// ListAvailableDates returns the dates with stored snapshots for an airport,
// newest first.
func (s *SQLiteStore) ListAvailableDates(ctx context.Context, airport string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT request_date FROM snapshots WHERE airport = ? ORDER BY request_date DESC`, airport)
	if err != nil {
		log.Printf("storage: list dates %s: %v", airport, err)
		return nil, nil
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights`).Scan(&st.TotalRecords); err != nil {
		return st, fmt.Errorf("count records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&st.TotalSnapshots); err != nil {
		return st, fmt.Errorf("count snapshots: %w", err)
	}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(request_date), MAX(request_date) FROM snapshots`).Scan(&oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("date bounds: %w", err)
	}
	if oldest.Valid {
		st.OldestDate = oldest.String
	}
	if newest.Valid {
		st.NewestDate = newest.String
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT airport FROM snapshots ORDER BY airport`)
	if err != nil {
		return st, fmt.Errorf("covered airports: %w", err)
	}
	defer func() { _ = rows.Close() }()
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
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM flights WHERE actual_time IS NOT NULL AND actual_time != ''`).Scan(&withActual); err != nil {
			return st, fmt.Errorf("count actuals: %w", err)
		}
		st.DataQualityPercent = qualityPercent(withActual, st.TotalRecords)
	}

	return st, nil
}

// PurgeOlderThan deletes snapshots and their records older than now-days,
// atomically. Returns the number of snapshots deleted.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flights WHERE request_date < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("purge flights: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE request_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return deleted, nil
}

// SaveHotEntry mirrors a hot cache entry to disk so it survives restarts.
func (s *SQLiteStore) SaveHotEntry(ctx context.Context, key string, records []flight.Record, fetchedAt time.Time, ttl time.Duration) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal hot entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hot_cache (key, payload, fetched_at, ttl_seconds, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			ttl_seconds = excluded.ttl_seconds,
			updated_at = CURRENT_TIMESTAMP
	`, key, string(payload), formatInstant(fetchedAt), int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("save hot entry: %w", err)
	}
	return nil
}

// LoadHotEntry reads a persisted hot cache entry. A missing key returns
// ok == false with no error.
func (s *SQLiteStore) LoadHotEntry(ctx context.Context, key string) ([]flight.Record, time.Time, time.Duration, bool, error) {
	var payload, fetchedAt string
	var ttlSeconds int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at, ttl_seconds FROM hot_cache WHERE key = ?`, key).
		Scan(&payload, &fetchedAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, 0, false, nil
	}
	if err != nil {
		return nil, time.Time{}, 0, false, fmt.Errorf("load hot entry: %w", err)
	}

	var records []flight.Record
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, time.Time{}, 0, false, fmt.Errorf("unmarshal hot entry: %w", err)
	}
	at, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return nil, time.Time{}, 0, false, fmt.Errorf("parse fetched_at: %w", err)
	}
	return records, at, time.Duration(ttlSeconds) * time.Second, true, nil
}

const selectFlightColumns = `
	SELECT flight_number, airline_code, airline_name,
		origin_code, origin_name, destination_code, destination_name,
		scheduled_time, actual_time, estimated_time, status, delay_minutes`

// scanRecords reads flight rows produced by selectFlightColumns.
func scanRecords(rows *sql.Rows) ([]flight.Record, error) {
	var records []flight.Record
	for rows.Next() {
		var rec flight.Record
		var airlineName, originName, destName, actual, estimated sql.NullString
		var scheduled string

		err := rows.Scan(&rec.FlightNumber, &rec.AirlineCode, &airlineName,
			&rec.OriginCode, &originName, &rec.DestinationCode, &destName,
			&scheduled, &actual, &estimated, &rec.Status, &rec.DelayMinutes)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.AirlineName = airlineName.String
		rec.OriginName = originName.String
		rec.DestinationName = destName.String
		if t, err := time.Parse(time.RFC3339, scheduled); err == nil {
			rec.ScheduledTime = t
		}
		if actual.Valid && actual.String != "" {
			if t, err := time.Parse(time.RFC3339, actual.String); err == nil {
				rec.ActualTime = &t
			}
		}
		if estimated.Valid && estimated.String != "" {
			if t, err := time.Parse(time.RFC3339, estimated.String); err == nil {
				rec.EstimatedTime = &t
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// formatInstant stores timestamps as UTC RFC3339 so lexical ordering in SQL
// matches chronological ordering regardless of source offset.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptInstant(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatInstant(*t)
}

// qualityPercent is records-with-actual / total, rounded and clamped to [0,100].
func qualityPercent(withActual, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int((float64(withActual)/float64(total))*100 + 0.5)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}
