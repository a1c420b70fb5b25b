// Package main provides the flighthistd server: the flight history cache
// and statistics service.
//
// flighthistd ingests flight snapshots (via the REST API or a NATS feed),
// stores them durably with per-(airport, date, type) deduplication, keeps
// a TTL hot cache of the latest data, and derives punctuality and route
// statistics from whatever has accumulated.
//
// Usage:
//
//	flighthistd [options]
//
// Options:
//
//	-config FILE        YAML service config (airports, thresholds, TTLs, rate limits)
//	-db-backend NAME    Snapshot store backend: sqlite or postgres (env: DB_BACKEND)
//	-db FILE            SQLite database path (default: flighthist.db, env: SQLITE_PATH)
//	-pg-host HOST       PostgreSQL host (default: localhost, env: POSTGRES_HOST)
//	-pg-port PORT       PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB     PostgreSQL database (default: flighthist, env: POSTGRES_DATABASE)
//	-pg-user USER       PostgreSQL user (default: flighthist, env: POSTGRES_USER)
//	-pg-password PASS   PostgreSQL password (default: flighthist, env: POSTGRES_PASSWORD)
//	-ch-host HOST       ClickHouse host; empty disables the archive (env: CLICKHOUSE_HOST)
//	-ch-port PORT       ClickHouse port (default: 9000, env: CLICKHOUSE_PORT)
//	-ch-database DB     ClickHouse database (default: flighthist, env: CLICKHOUSE_DATABASE)
//	-ch-user USER       ClickHouse user (default: default, env: CLICKHOUSE_USER)
//	-ch-password PASS   ClickHouse password (env: CLICKHOUSE_PASSWORD)
//	-nats URL           NATS server URL; empty disables the feed (env: NATS_URL)
//	-quota-state FILE   Request tracker state file (default: quota_state.json)
//	-port N             HTTP port (default: 8080)
//	-auth               Enable API key authentication
//	-api-keys KEYS      Comma-separated list of valid API keys
//
// API Endpoints (under /api/v1):
//
//	GET  /health
//	GET  /flights/{airport}/{arrivals|departures}?date=YYYY-MM-DD
//	POST /flights/{airport}/{arrivals|departures}
//	GET  /statistics/{airport}
//	GET  /statistics/{airport}/routes
//	GET  /statistics/{airport}/weekly
//	GET  /store/stats
//	GET  /dates/{airport}
//	GET  /quota
//	GET  /archive/{airport}/routes
//	GET  /archive/{airport}/punctuality
//	POST /maintenance/purge?days=N
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"flighthist/internal/api"
	"flighthist/internal/config"
	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/ingest"
	"flighthist/internal/quota"
	"flighthist/internal/stats"
	"flighthist/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	configPath := flag.String("config", "", "YAML service config file")

	dbBackend := flag.String("db-backend", envOrDefault("DB_BACKEND", "sqlite"), "Snapshot store backend (sqlite or postgres)")
	dbPath := flag.String("db", envOrDefault("SQLITE_PATH", "flighthist.db"), "SQLite database path")

	pgHost := flag.String("pg-host", envOrDefault("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	pgPort := flag.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	pgUser := flag.String("pg-user", envOrDefault("POSTGRES_USER", "flighthist"), "PostgreSQL user")
	pgPassword := flag.String("pg-password", envOrDefault("POSTGRES_PASSWORD", "flighthist"), "PostgreSQL password")
	pgDB := flag.String("pg-database", envOrDefault("POSTGRES_DATABASE", "flighthist"), "PostgreSQL database")

	chHost := flag.String("ch-host", envOrDefault("CLICKHOUSE_HOST", ""), "ClickHouse host (empty disables archive)")
	chPort := flag.Int("ch-port", envOrDefaultInt("CLICKHOUSE_PORT", 9000), "ClickHouse port")
	chUser := flag.String("ch-user", envOrDefault("CLICKHOUSE_USER", "default"), "ClickHouse user")
	chPassword := flag.String("ch-password", envOrDefault("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	chDB := flag.String("ch-database", envOrDefault("CLICKHOUSE_DATABASE", "flighthist"), "ClickHouse database")

	natsURL := flag.String("nats", envOrDefault("NATS_URL", ""), "NATS server URL (empty disables feed)")
	quotaState := flag.String("quota-state", "quota_state.json", "Request tracker state file")

	port := flag.Int("port", 8080, "HTTP port for API server")
	authEnabled := flag.Bool("auth", false, "Enable API key authentication")
	apiKeys := flag.String("api-keys", "", "Comma-separated list of valid API keys (when auth enabled)")

	flag.Parse()

	ctx := context.Background()

	svcCfg := config.Default()
	if *configPath != "" {
		var err error
		svcCfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	storeCfg := storage.DefaultConfig()
	storeCfg.Backend = storage.Backend(*dbBackend)
	storeCfg.SQLitePath = *dbPath
	storeCfg.Postgres = storage.PostgresConfig{
		Host:     *pgHost,
		Port:     *pgPort,
		Database: *pgDB,
		User:     *pgUser,
		Password: *pgPassword,
	}

	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening snapshot store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// SQLite doubles as the hot cache's persistence so cached data
	// survives restarts.
	var persister hotcache.PersistentBackend
	if sq, ok := store.(*storage.SQLiteStore); ok {
		persister = sq
	}
	cache := hotcache.New(persister)

	var archive *storage.Archive
	if *chHost != "" {
		archive, err = storage.OpenArchive(ctx, storage.ClickHouseConfig{
			Host:     *chHost,
			Port:     *chPort,
			Database: *chDB,
			User:     *chUser,
			Password: *chPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening ClickHouse archive: %v\n", err)
			os.Exit(1)
		}
		defer archive.Close()
		log.Printf("ClickHouse archive enabled at %s:%d", *chHost, *chPort)
	}

	tracker := quota.New(0, *quotaState)

	pipe := ingest.New(store, cache, archive, tracker, ingest.Options{
		Normalize: flight.NormalizeOptions{DelayedFallbackMinutes: svcCfg.DelayedFallbackMinutes},
		CacheTTL:  svcCfg.CacheTTL,
	})

	agg := stats.New(cache, store, stats.Config{
		DelayedThresholdMinutes: svcCfg.DelayedThresholdMinutes,
		HistoryDays:             svcCfg.HistoryDays,
	})

	if *natsURL != "" {
		consumer, err := ingest.NewConsumer(*natsURL, pipe, svcCfg.Limiter("feed"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to NATS: %v\n", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error subscribing to NATS: %v\n", err)
			os.Exit(1)
		}
		defer consumer.Stop()
	}

	log.Printf("Tracking airports: %s", strings.Join(svcCfg.Airports, ", "))

	var keys []string
	if *apiKeys != "" {
		keys = strings.Split(*apiKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
	}

	server := api.NewServer(api.Deps{
		Store:    store,
		Cache:    cache,
		Pipeline: pipe,
		Stats:    agg,
		Tracker:  tracker,
		Archive:  archive,
	}, api.Config{
		Port:        *port,
		AuthEnabled: *authEnabled,
		APIKeys:     keys,
	})

	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
