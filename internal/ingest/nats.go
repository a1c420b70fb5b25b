package ingest

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/nats-io/nats.go"

	"flighthist/internal/flight"
	"flighthist/internal/ratelimit"
)

// SubjectPrefix is the NATS subject tree carrying raw flight batches.
// Messages arrive on flights.raw.<airport>.<arrivals|departures> with a
// JSON array of raw flights as the payload.
const SubjectPrefix = "flights.raw"

// Consumer feeds NATS batches into the ingestion pipeline. The optional
// limiter paces batch processing so a bursty feed cannot flood the store.
type Consumer struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	pipe    *Pipeline
	limiter ratelimit.Limiter
}

// NewConsumer connects to the NATS server at url. limiter may be nil.
func NewConsumer(url string, pipe *Pipeline, limiter ratelimit.Limiter) (*Consumer, error) {
	nc, err := nats.Connect(url,
		nats.Name("flighthist-ingest"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, pipe: pipe, limiter: limiter}, nil
}

// Start subscribes to the raw flight subjects and processes messages until
// Stop is called. Members of the same queue group share the work.
func (c *Consumer) Start() error {
	sub, err := c.nc.QueueSubscribe(SubjectPrefix+".>", "flighthist", c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	log.Printf("nats: subscribed to %s.>", SubjectPrefix)
	return nil
}

// Stop drains the subscription and closes the connection.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Printf("nats: drain: %v", err)
		}
	}
	c.nc.Close()
}

func (c *Consumer) handle(msg *nats.Msg) {
	airport, ft, ok := parseSubject(msg.Subject)
	if !ok {
		log.Printf("nats: ignoring message on unexpected subject %q", msg.Subject)
		return
	}

	var raws []flight.RawFlight
	if err := json.Unmarshal(msg.Data, &raws); err != nil {
		log.Printf("nats: bad payload on %s: %v", msg.Subject, err)
		return
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			log.Printf("nats: limiter wait: %v", err)
			return
		}
	}

	res, err := c.pipe.Ingest(context.Background(), airport, ft, raws)
	if err != nil {
		log.Printf("nats: ingest failed for %s %s: %v", airport, ft, err)
		return
	}
	log.Printf("nats: %s %s: saved %d of %d (duplicate=%v)", airport, ft, res.Saved, res.Attempted, res.Duplicate)
}

// parseSubject extracts airport and direction from
// flights.raw.<airport>.<type>.
func parseSubject(subject string) (string, flight.Type, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0]+"."+parts[1] != SubjectPrefix {
		return "", "", false
	}
	airport := strings.ToUpper(parts[2])
	ft, ok := flight.ParseType(parts[3])
	if !ok {
		return "", "", false
	}
	return airport, ft, true
}
