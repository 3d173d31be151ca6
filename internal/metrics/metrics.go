// Package metrics exposes ingestion and vectorize counters for Prometheus.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	pagesFetched     prometheus.Counter
	recordsUpserted  *prometheus.CounterVec
	sessionRefreshes prometheus.Counter
	authFailures     prometheus.Counter
	fetchRetries     prometheus.Counter

	embeddingsWritten prometheus.Counter
	recordsSkipped    prometheus.Counter
	vectorizeDuration prometheus.Histogram
	checkpointCount   prometheus.Gauge
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_pages_fetched_total",
			Help: "Total number of listing pages fetched",
		}),
		recordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eures_records_upserted_total",
			Help: "Total number of job records written, by outcome",
		}, []string{"outcome"}),
		sessionRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_session_refreshes_total",
			Help: "Total number of session refreshes",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_auth_failures_total",
			Help: "Total number of responses classified as authentication failures",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_fetch_retries_total",
			Help: "Total number of page fetch retries after transient errors",
		}),
		embeddingsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_embeddings_written_total",
			Help: "Total number of embeddings persisted",
		}),
		recordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eures_vectorize_skipped_total",
			Help: "Total number of records skipped by the embedding provider",
		}),
		vectorizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eures_vectorize_duration_seconds",
			Help:    "Duration of vectorize runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		checkpointCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eures_vectorize_checkpoint_count",
			Help: "Number of records covered by the vectorize checkpoint",
		}),
	}
	reg.MustRegister(
		c.pagesFetched,
		c.recordsUpserted,
		c.sessionRefreshes,
		c.authFailures,
		c.fetchRetries,
		c.embeddingsWritten,
		c.recordsSkipped,
		c.vectorizeDuration,
		c.checkpointCount,
	)
	return c
}

func (c *Collector) PageFetched() {
	if c != nil {
		c.pagesFetched.Inc()
	}
}

// RecordUpserted counts a store write; outcome is "inserted", "updated", "duplicate" or "filtered".
func (c *Collector) RecordUpserted(outcome string) {
	if c != nil {
		c.recordsUpserted.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) SessionRefreshed() {
	if c != nil {
		c.sessionRefreshes.Inc()
	}
}

func (c *Collector) AuthFailure() {
	if c != nil {
		c.authFailures.Inc()
	}
}

func (c *Collector) FetchRetry() {
	if c != nil {
		c.fetchRetries.Inc()
	}
}

func (c *Collector) EmbeddingWritten() {
	if c != nil {
		c.embeddingsWritten.Inc()
	}
}

func (c *Collector) RecordSkipped() {
	if c != nil {
		c.recordsSkipped.Inc()
	}
}

func (c *Collector) ObserveVectorize(d time.Duration) {
	if c != nil {
		c.vectorizeDuration.Observe(d.Seconds())
	}
}

func (c *Collector) SetCheckpoint(count int) {
	if c != nil {
		c.checkpointCount.Set(float64(count))
	}
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
