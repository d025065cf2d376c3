package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	RecordsConsumed  prometheus.Counter
	RecordsRejected  *prometheus.CounterVec // field label
	MeterWarnings    prometheus.Counter
	BufferedRecords  prometheus.Gauge
	BatchesFlushed   *prometheus.CounterVec // trigger label: size|idle|shutdown
	FlushDuration    prometheus.Histogram
	SpeedRowsWritten prometheus.Counter
	PersistFailures  prometheus.Counter
	ArchiveUploads   prometheus.Counter
	ArchiveRetries   prometheus.Counter
	ArchiveFailures  prometheus.Counter
	TripUpdatesOK    prometheus.Counter
	TripUpdatesDead  prometheus.Counter
	TripUpdatesBad   prometheus.Counter
	NATSConnected    prometheus.Gauge
	BatchThreshold   prometheus.Gauge
	IdleTimeoutSecs  prometheus.Gauge
}

func NewCollector(batchThreshold int, idleTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_records_consumed_total",
			Help: "Total breadcrumb messages consumed.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_records_rejected_total",
			Help: "Records diverted to quarantine, by failing field.",
		}, []string{"field"}),
		MeterWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_meter_warnings_total",
			Help: "Records with a negative odometer reading (kept, warned).",
		}),
		BufferedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_buffered_records",
			Help: "Records currently accumulated and not yet flushed.",
		}),
		BatchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_batches_flushed_total",
			Help: "Detached batches, by flush trigger.",
		}, []string{"trigger"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_flush_duration_seconds",
			Help:    "Duration of transform+persist+archive per batch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		SpeedRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_speed_rows_written_total",
			Help: "Derived speed rows written to the final table.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_persist_failures_total",
			Help: "Flush attempts abandoned due to a persistence error.",
		}),
		ArchiveUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_archive_uploads_total",
			Help: "Successful archive object writes.",
		}),
		ArchiveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_archive_retries_total",
			Help: "Archive append attempts retried.",
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_archive_failures_total",
			Help: "Batches dropped from archival after retry exhaustion.",
		}),
		TripUpdatesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_trip_updates_applied_total",
			Help: "Trip metadata updates applied to existing trips.",
		}),
		TripUpdatesDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_trip_updates_deadlettered_total",
			Help: "Trip metadata updates with no matching trip.",
		}),
		TripUpdatesBad: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_trip_updates_invalid_total",
			Help: "Trip metadata messages failing validation.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		BatchThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_batch_threshold",
			Help: "Configured size threshold per batch.",
		}),
		IdleTimeoutSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_idle_timeout_seconds",
			Help: "Configured idle flush timeout in seconds.",
		}),
	}

	reg.MustRegister(
		c.RecordsConsumed, c.RecordsRejected, c.MeterWarnings, c.BufferedRecords,
		c.BatchesFlushed, c.FlushDuration, c.SpeedRowsWritten, c.PersistFailures,
		c.ArchiveUploads, c.ArchiveRetries, c.ArchiveFailures,
		c.TripUpdatesOK, c.TripUpdatesDead, c.TripUpdatesBad,
		c.NATSConnected, c.BatchThreshold, c.IdleTimeoutSecs,
	)

	c.BatchThreshold.Set(float64(batchThreshold))
	c.IdleTimeoutSecs.Set(idleTimeout.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// ArchiveUploadInc and friends implement archive.EncoderMetrics.
func (c *Collector) ArchiveUploadInc()  { c.ArchiveUploads.Inc() }
func (c *Collector) ArchiveRetryInc()   { c.ArchiveRetries.Inc() }
func (c *Collector) ArchiveFailureInc() { c.ArchiveFailures.Inc() }
