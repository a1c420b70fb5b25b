// Package storage provides durable, deduplicated persistence of flight
// snapshots. SQLite is the primary backend; PostgreSQL is available for
// deployments that already run it, and ClickHouse serves as an optional
// long-horizon analytics archive.
package storage

import (
	"context"
	"fmt"

	"flighthist/internal/flight"
)

// Backend selects the snapshot store implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config holds database connection settings for all backends.
type Config struct {
	Backend    Backend
	SQLitePath string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
}

// DefaultConfig returns a configuration with default local settings.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendSQLite,
		SQLitePath: "flighthist.db",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "flighthist",
			User:     "flighthist",
			Password: "flighthist",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "flighthist",
			User:     "default",
			Password: "",
		},
	}
}

// SaveResult reports per-snapshot persistence outcome: how many records the
// caller handed in, how many actually reached the database, and whether the
// whole snapshot was skipped as a duplicate of an existing key.
type SaveResult struct {
	Attempted int  `json:"attempted"`
	Saved     int  `json:"saved_to_database"`
	Skipped   int  `json:"skipped"`
	Duplicate bool `json:"duplicate"`
}

// Stats summarizes the accumulated store contents.
type Stats struct {
	TotalRecords       int      `json:"total_records"`
	TotalSnapshots     int      `json:"total_snapshots"`
	OldestDate         string   `json:"oldest_date,omitempty"`
	NewestDate         string   `json:"newest_date,omitempty"`
	CoveredAirports    []string `json:"covered_airports"`
	DataQualityPercent int      `json:"data_quality_percent"`
}

// Store is the snapshot store contract. At most one snapshot is retained
// per (airport, date, type); SaveSnapshot on an existing key is an
// idempotent no-op, not an error.
type Store interface {
	HasSnapshot(ctx context.Context, airport, date string, ft flight.Type) (bool, error)
	SaveSnapshot(ctx context.Context, snap flight.Snapshot) (SaveResult, error)
	GetSnapshot(ctx context.Context, airport, date string, ft flight.Type) ([]flight.Record, error)
	// GetRange returns records for [fromDate, toDate] ordered by date then
	// scheduled time. An empty flight type matches both directions.
	GetRange(ctx context.Context, airport, fromDate, toDate string, ft flight.Type) ([]flight.Record, error)
	ListAvailableDates(ctx context.Context, airport string) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	// PurgeOlderThan removes snapshots older than the horizon, returning
	// how many snapshots were deleted. It is an explicit maintenance
	// action, never invoked implicitly.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	Close() error
}

// Open opens the configured snapshot store backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	case BackendSQLite, "":
		return OpenSQLite(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
