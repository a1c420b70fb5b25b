// Command-line entry point for flighthist maintenance and inspection.
//
// The CLI works directly against the SQLite snapshot store, without the
// HTTP server: ingest a raw batch from a file, inspect statistics and
// stored dates, or purge old snapshots.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/ingest"
	"flighthist/internal/stats"
	"flighthist/internal/storage"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "flighthist - commands:")
	fmt.Fprintln(w, "  ingest  - ingest a raw flight batch (JSON array) into the store")
	fmt.Fprintln(w, "  stats   - show store totals or per-airport statistics")
	fmt.Fprintln(w, "  dates   - list dates with stored snapshots for an airport")
	fmt.Fprintln(w, "  purge   - delete snapshots older than N days")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  flighthist ingest -db flighthist.db -airport OTP -type arrivals [-input batch.json]")
	fmt.Fprintln(w, "  flighthist stats -db flighthist.db [-airport OTP]")
	fmt.Fprintln(w, "  flighthist dates -db flighthist.db -airport OTP")
	fmt.Fprintln(w, "  flighthist purge -db flighthist.db -days 90")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "ingest":
		runIngest(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "dates":
		runDates(os.Args[2:])
	case "purge":
		runPurge(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func openStore(path string) *storage.SQLiteStore {
	store, err := storage.OpenSQLite(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dbPath := fs.String("db", "flighthist.db", "SQLite database path")
	airport := fs.String("airport", "", "Airport IATA code")
	ftStr := fs.String("type", "", "Flight type: arrivals or departures")
	inPath := fs.String("input", "", "Raw batch JSON file (default: stdin)")
	_ = fs.Parse(args)

	if *airport == "" {
		fmt.Fprintln(os.Stderr, "-airport is required")
		os.Exit(2)
	}
	ft, ok := flight.ParseType(*ftStr)
	if !ok {
		fmt.Fprintln(os.Stderr, "-type must be arrivals or departures")
		os.Exit(2)
	}

	var r io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	var raws []flight.RawFlight
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode batch: %v\n", err)
		os.Exit(1)
	}

	store := openStore(*dbPath)
	defer store.Close()

	pipe := ingest.New(store, hotcache.New(store), nil, nil, ingest.Options{})
	res, err := pipe.Ingest(context.Background(), strings.ToUpper(*airport), ft, raws)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}

	if res.Duplicate {
		fmt.Printf("Snapshot already stored for today; store unchanged (attempted %d)\n", res.Attempted)
		return
	}
	fmt.Printf("Ingested %d of %d flights (%d dropped during normalization, %d skipped)\n",
		res.Saved, len(raws), res.Dropped, res.Skipped)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", "flighthist.db", "SQLite database path")
	airport := fs.String("airport", "", "Airport IATA code (empty: store totals)")
	_ = fs.Parse(args)

	store := openStore(*dbPath)
	defer store.Close()
	ctx := context.Background()

	if *airport == "" {
		st, err := store.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read store stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshots:     %d\n", st.TotalSnapshots)
		fmt.Printf("Records:       %d\n", st.TotalRecords)
		if st.OldestDate != "" {
			fmt.Printf("Date range:    %s .. %s\n", st.OldestDate, st.NewestDate)
		}
		fmt.Printf("Airports:      %s\n", strings.Join(st.CoveredAirports, ", "))
		fmt.Printf("Data quality:  %d%%\n", st.DataQualityPercent)
		return
	}

	agg := stats.New(hotcache.New(store), store, stats.Config{})
	res := agg.AirportStatistics(ctx, strings.ToUpper(*airport), true)
	if res.Statistics == nil {
		fmt.Println(res.Message)
		return
	}

	st := res.Statistics
	fmt.Printf("Airport:        %s\n", st.Airport)
	fmt.Printf("Total flights:  %d\n", st.TotalFlights)
	fmt.Printf("On time:        %d (%d%%)\n", st.OnTimeFlights, st.OnTimePercentage)
	fmt.Printf("Delayed:        %d (avg %d min)\n", st.DelayedFlights, st.AverageDelayMinutes)
	fmt.Printf("Cancelled:      %d\n", st.CancelledFlights)
	fmt.Printf("Daily flights:  %d\n", st.DailyFlights)
}

func runDates(args []string) {
	fs := flag.NewFlagSet("dates", flag.ExitOnError)
	dbPath := fs.String("db", "flighthist.db", "SQLite database path")
	airport := fs.String("airport", "", "Airport IATA code")
	_ = fs.Parse(args)

	if *airport == "" {
		fmt.Fprintln(os.Stderr, "-airport is required")
		os.Exit(2)
	}

	store := openStore(*dbPath)
	defer store.Close()

	dates, err := store.ListAvailableDates(context.Background(), strings.ToUpper(*airport))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list dates: %v\n", err)
		os.Exit(1)
	}
	if len(dates) == 0 {
		fmt.Println("No snapshots stored for this airport")
		return
	}
	for _, d := range dates {
		fmt.Println(d)
	}
}

func runPurge(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	dbPath := fs.String("db", "flighthist.db", "SQLite database path")
	days := fs.Int("days", 0, "Delete snapshots older than this many days")
	_ = fs.Parse(args)

	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "-days must be positive")
		os.Exit(2)
	}

	store := openStore(*dbPath)
	defer store.Close()

	deleted, err := store.PurgeOlderThan(context.Background(), *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d snapshots older than %d days\n", deleted, *days)
}
