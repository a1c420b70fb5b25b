// Package ingest normalizes raw upstream flight batches and persists them
// as daily snapshots, keeping the hot cache and request quota in step.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"flighthist/internal/flight"
	"flighthist/internal/hotcache"
	"flighthist/internal/quota"
	"flighthist/internal/storage"
)

// Options configures a Pipeline.
type Options struct {
	Normalize flight.NormalizeOptions
	CacheTTL  time.Duration
}

// Result reports one ingestion run.
type Result struct {
	storage.SaveResult
	Normalized int `json:"normalized"`
	Dropped    int `json:"dropped"`
}

// Pipeline wires normalization, the snapshot store, the hot cache and the
// optional ClickHouse archive into a single ingestion path.
type Pipeline struct {
	store   storage.Store
	cache   *hotcache.Cache
	archive *storage.Archive
	tracker *quota.Tracker
	opts    Options
	now     func() time.Time
}

// New creates a Pipeline. archive and tracker may be nil.
func New(store storage.Store, cache *hotcache.Cache, archive *storage.Archive, tracker *quota.Tracker, opts Options) *Pipeline {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = hotcache.DefaultTTL
	}
	return &Pipeline{
		store:   store,
		cache:   cache,
		archive: archive,
		tracker: tracker,
		opts:    opts,
		now:     time.Now,
	}
}

// Ingest normalizes a raw batch and saves it as today's snapshot for the
// airport and direction. An empty batch is still ingested: the empty
// snapshot is a durable observation, not an error. A duplicate save is a
// no-op for the store but still refreshes the hot cache.
func (p *Pipeline) Ingest(ctx context.Context, airport string, ft flight.Type, raws []flight.RawFlight) (Result, error) {
	records := make([]flight.Record, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, ok := flight.Normalize(raw, p.opts.Normalize)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 {
		log.Printf("ingest: dropped %d of %d raw flights for %s %s", dropped, len(raws), airport, ft)
	}

	res, err := p.IngestRecords(ctx, airport, ft, records)
	res.Dropped = dropped
	return res, err
}

// IngestRecords saves an already-normalized batch.
func (p *Pipeline) IngestRecords(ctx context.Context, airport string, ft flight.Type, records []flight.Record) (Result, error) {
	start := p.now()
	snap := flight.NewSnapshot(airport, ft, flight.SourceAPI, records, start)

	saved, err := p.store.SaveSnapshot(ctx, snap)
	p.logRequest(airport, ft, err, p.now().Sub(start))
	if err != nil {
		return Result{SaveResult: saved, Normalized: len(records)}, fmt.Errorf("saving snapshot for %s %s: %w", airport, ft, err)
	}

	// The freshest observation wins the cache slot even when the store
	// already held today's snapshot.
	if p.cache != nil {
		p.cache.Set(flight.CacheKey(airport, ft), records, p.opts.CacheTTL)
	}

	if p.archive != nil && !saved.Duplicate {
		if aerr := p.archive.ArchiveSnapshot(ctx, snap); aerr != nil {
			log.Printf("ingest: archive write failed for %s %s: %v", airport, ft, aerr)
		}
	}

	return Result{SaveResult: saved, Normalized: len(records)}, nil
}

func (p *Pipeline) logRequest(airport string, ft flight.Type, err error, took time.Duration) {
	if p.tracker == nil {
		return
	}
	e := quota.Entry{
		Endpoint:    "ingest",
		Method:      "POST",
		Airport:     airport,
		RequestType: string(ft),
		Success:     err == nil,
		Duration:    took,
	}
	if err != nil {
		e.Error = err.Error()
	}
	p.tracker.LogRequest(e)
}
