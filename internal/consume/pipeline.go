package consume

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"breadcrumb-pipeline/internal/archive"
	"breadcrumb-pipeline/internal/batch"
	"breadcrumb-pipeline/internal/metrics"
	"breadcrumb-pipeline/internal/model"
	"breadcrumb-pipeline/internal/store"
	"breadcrumb-pipeline/internal/validate"
)

// Pipeline is the breadcrumb consumer: subscribe, validate, repair,
// accumulate, and on each flush transform-persist-archive-ack.
type Pipeline struct {
	js      nats.JetStreamContext
	subject string
	durable string

	acc      *batch.Accumulator
	watchdog *batch.Watchdog
	checker  *validate.Checker
	store    *store.Store
	encoder  *archive.Encoder
	loc      *time.Location
	metrics  *metrics.Collector

	// flushMu serializes flush processing. Detachment already prevents
	// two flushes sharing records; this additionally keeps the shared
	// staging table single-writer while ingestion continues unblocked.
	flushMu sync.Mutex
}

type PipelineOptions struct {
	Subject          string
	Durable          string
	BatchSize        int
	IdleTimeout      time.Duration
	WatchdogInterval time.Duration
	Location         *time.Location
}

func NewPipeline(js nats.JetStreamContext, st *store.Store, enc *archive.Encoder, m *metrics.Collector, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		js:       js,
		subject:  opts.Subject,
		durable:  opts.Durable,
		acc:      batch.NewAccumulator(opts.BatchSize, opts.IdleTimeout),
		watchdog: batch.NewWatchdog(opts.WatchdogInterval),
		checker:  validate.NewChecker(),
		store:    st,
		encoder:  enc,
		loc:      opts.Location,
		metrics:  m,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription, stops the watchdog and flushes the remaining buffer.
func (p *Pipeline) Run(ctx context.Context) error {
	sub, err := p.js.Subscribe(p.subject, p.handle,
		nats.Durable(p.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(2*time.Minute),
	)
	if err != nil {
		return err
	}
	p.watchdog.Start(ctx, func(now time.Time) {
		if detached := p.acc.FlushIfIdle(now); detached != nil {
			log.Printf("idle timeout reached with %d buffered records, flushing", len(detached))
			p.process(ctx, detached, "idle")
		}
	})

	<-ctx.Done()

	p.watchdog.Stop()
	if err := sub.Drain(); err != nil {
		log.Printf("drain subscription: %v", err)
	}
	// Final flush so delivered records are persisted rather than
	// waiting for redelivery on the next start.
	if detached := p.acc.Flush(); detached != nil {
		p.process(context.Background(), detached, "shutdown")
	}
	return ctx.Err()
}

// handle runs on the JetStream delivery goroutine. It must stay
// cheap: decode, repair, validate, append. Flush work is handed to a
// separate goroutine so a slow persist never stalls delivery.
func (p *Pipeline) handle(msg *nats.Msg) {
	if p.metrics != nil {
		p.metrics.RecordsConsumed.Inc()
	}
	var raw model.RawBreadcrumb
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		p.quarantine(msg, "json", err)
		return
	}
	crumb, err := raw.Decode(p.loc)
	if err != nil {
		p.quarantine(msg, "Timestamp", err)
		return
	}
	crumb = validate.Repair(crumb)
	if err := p.checker.Check(crumb); err != nil {
		field := "record"
		if rej, ok := validate.AsRejection(err); ok {
			field = rej.Field
		}
		p.quarantine(msg, field, err)
		return
	}
	if validate.NegativeMeters(crumb) {
		log.Printf("warning: negative odometer reading %.1f on trip=%d vehicle=%d",
			crumb.Meters, crumb.EventNoTrip, crumb.VehicleID)
		if p.metrics != nil {
			p.metrics.MeterWarnings.Inc()
		}
	}

	detached := p.acc.Append(batch.Entry{
		Crumb: crumb,
		Raw:   append(json.RawMessage(nil), msg.Data...),
		Ack:   func() error { return msg.Ack() },
	})
	if p.metrics != nil {
		p.metrics.BufferedRecords.Set(float64(p.acc.Len()))
	}
	if detached != nil {
		go p.process(context.Background(), detached, "size")
	}
}

// process runs the flush pipeline on a detached batch: persist to
// Postgres, archive the raw records, then ack the source messages.
// A persistence failure leaves the messages unacked for redelivery;
// an archive failure only drops the batch from cold storage, the rows
// are already durable in the relational store.
func (p *Pipeline) process(ctx context.Context, entries []batch.Entry, trigger string) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.BatchesFlushed.WithLabelValues(trigger).Inc()
	}

	crumbs := make([]model.Breadcrumb, len(entries))
	raws := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		crumbs[i] = e.Crumb
		raws[i] = e.Raw
	}

	written, err := p.store.Persist(ctx, crumbs)
	if err != nil {
		log.Printf("flush(%s): persist failed for batch of %d, leaving staging for next cycle: %v",
			trigger, len(entries), err)
		if p.metrics != nil {
			p.metrics.PersistFailures.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.SpeedRowsWritten.Add(float64(written))
	}

	name := archive.ObjectName("archive", time.Now().In(p.loc))
	if err := p.encoder.Append(ctx, name, raws); err != nil {
		log.Printf("flush(%s): archival dropped for batch of %d: %v", trigger, len(entries), err)
	}

	for _, e := range entries {
		if err := e.Ack(); err != nil {
			log.Printf("flush(%s): ack failed (message will be redelivered): %v", trigger, err)
		}
	}
	if p.metrics != nil {
		p.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}
	log.Printf("flush(%s): persisted batch of %d (%d speed rows) in %s",
		trigger, len(entries), written, time.Since(start).Round(time.Millisecond))
}

// quarantine diverts a record that failed a hard check into the daily
// quarantine archive object. The sink write runs on its own goroutine
// so a degraded archive store never stalls delivery, and the message
// is only acked once the record is durably in the sink; until then
// JetStream redelivers it.
func (p *Pipeline) quarantine(msg *nats.Msg, field string, cause error) {
	log.Printf("quarantine: field=%s: %v", field, cause)
	if p.metrics != nil {
		p.metrics.RecordsRejected.WithLabelValues(field).Inc()
	}
	raw := append(json.RawMessage(nil), msg.Data...)
	go p.quarantineWrite(raw, func() error { return msg.Ack() })
}

func (p *Pipeline) quarantineWrite(raw json.RawMessage, ack func() error) {
	name := archive.ObjectName("quarantine", time.Now().In(p.loc))
	if err := p.encoder.Append(context.Background(), name, []json.RawMessage{raw}); err != nil {
		log.Printf("quarantine: archival failed, leaving message for redelivery: %v", err)
		return
	}
	if err := ack(); err != nil {
		log.Printf("quarantine: ack failed: %v", err)
	}
}
