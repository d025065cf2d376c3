// Package enrich consumes the stop-event metadata stream and merges
// route, service key and direction attributes into existing trip rows.
// Updates arriving before the persister has created their trip are
// dead-lettered for later reconciliation, never discarded.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"

	"breadcrumb-pipeline/internal/metrics"
	"breadcrumb-pipeline/internal/model"
)

// TripStore is the slice of the relational store the enricher needs.
type TripStore interface {
	ApplyTripUpdate(ctx context.Context, u model.TripUpdate) (bool, error)
	InsertDeadLetter(ctx context.Context, u model.TripUpdate) error
}

// Parser validates and code-maps raw trip update messages.
type Parser struct {
	v *validator.Validate
}

func NewParser() *Parser {
	return &Parser{v: validator.New()}
}

// Parse checks the wire contract (9-digit trip id, positive numeric
// route, 0/1 direction, single-letter service key) and maps the codes
// to their enums.
func (p *Parser) Parse(raw model.RawTripUpdate) (model.TripUpdate, error) {
	if err := p.v.Struct(raw); err != nil {
		return model.TripUpdate{}, fmt.Errorf("invalid trip update: %w", err)
	}
	tripID, err := strconv.ParseInt(raw.TripID, 10, 64)
	if err != nil || tripID <= 0 {
		return model.TripUpdate{}, fmt.Errorf("invalid trip_id %q", raw.TripID)
	}
	routeID, err := strconv.ParseInt(raw.RouteNumber, 10, 64)
	if err != nil || routeID <= 0 {
		return model.TripUpdate{}, fmt.Errorf("invalid route_number %q", raw.RouteNumber)
	}
	dir, ok := model.MapDirection(raw.Direction)
	if !ok {
		return model.TripUpdate{}, fmt.Errorf("invalid direction %q", raw.Direction)
	}
	return model.TripUpdate{
		TripID:     tripID,
		RouteID:    routeID,
		ServiceKey: model.MapServiceKey(raw.ServiceKey),
		Direction:  dir,
	}, nil
}

// Enricher subscribes to the trip metadata subject and applies each
// update, dead-lettering unmatched ones.
type Enricher struct {
	js      nats.JetStreamContext
	subject string
	durable string
	parser  *Parser
	store   TripStore
	metrics *metrics.Collector
}

func NewEnricher(js nats.JetStreamContext, subject, durable string, st TripStore, m *metrics.Collector) *Enricher {
	return &Enricher{
		js:      js,
		subject: subject,
		durable: durable,
		parser:  NewParser(),
		store:   st,
		metrics: m,
	}
}

// Run subscribes and blocks until ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	sub, err := e.js.Subscribe(e.subject, e.handle,
		nats.Durable(e.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Minute),
	)
	if err != nil {
		return err
	}
	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		log.Printf("drain subscription: %v", err)
	}
	return ctx.Err()
}

func (e *Enricher) handle(msg *nats.Msg) {
	if !e.process(msg.Data) {
		return
	}
	if err := msg.Ack(); err != nil {
		log.Printf("enrich: ack failed: %v", err)
	}
}

// process applies one raw message and reports whether it is settled.
// An unsettled message stays unacked so JetStream redelivers it; a
// message that can never validate is settled immediately since
// redelivery would only repeat the failure.
func (e *Enricher) process(data []byte) bool {
	var raw model.RawTripUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("enrich: malformed message: %v", err)
		e.markBad()
		return true
	}
	update, err := e.parser.Parse(raw)
	if err != nil {
		log.Printf("enrich: %v", err)
		e.markBad()
		return true
	}

	matched, err := e.store.ApplyTripUpdate(context.Background(), update)
	if err != nil {
		log.Printf("enrich: update trip=%d failed, leaving for redelivery: %v", update.TripID, err)
		return false
	}
	if matched {
		if e.metrics != nil {
			e.metrics.TripUpdatesOK.Inc()
		}
		return true
	}
	if err := e.store.InsertDeadLetter(context.Background(), update); err != nil {
		log.Printf("enrich: dead-letter trip=%d failed, leaving for redelivery: %v", update.TripID, err)
		return false
	}
	if e.metrics != nil {
		e.metrics.TripUpdatesDead.Inc()
	}
	log.Printf("enrich: trip=%d not registered yet, dead-lettered", update.TripID)
	return true
}

func (e *Enricher) markBad() {
	if e.metrics != nil {
		e.metrics.TripUpdatesBad.Inc()
	}
}
