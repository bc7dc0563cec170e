// Package scrapemetrics exposes orchestrator-level Prometheus counters
// and histograms over an optional debug /metrics listener: task outcomes,
// task duration, fetch retries, and which extractor a hospital dispatched
// to. Metrics are an enrichment, never required for a run to complete.
package scrapemetrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram the orchestrator updates during a
// run. The zero value is not usable; construct with New.
type Metrics struct {
	TasksTotal             *prometheus.CounterVec
	TaskDurationSeconds    *prometheus.HistogramVec
	FetchRetriesTotal      prometheus.Counter
	ExtractorSelectedTotal *prometheus.CounterVec
}

// New creates and registers the metrics against prometheus's default
// registerer.
func New() *Metrics {
	return &Metrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mrfscrape",
				Subsystem: "orchestrator",
				Name:      "tasks_total",
				Help:      "Total hospital scrape tasks by final disposition.",
			},
			[]string{"outcome"},
		),
		TaskDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mrfscrape",
				Subsystem: "orchestrator",
				Name:      "task_duration_seconds",
				Help:      "Wall-clock duration of one hospital scrape task.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"outcome"},
		),
		FetchRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mrfscrape",
				Subsystem: "fetch",
				Name:      "retries_total",
				Help:      "Total retry attempts issued by the HTTP fetch layer.",
			},
		),
		ExtractorSelectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mrfscrape",
				Subsystem: "registry",
				Name:      "extractor_selected_total",
				Help:      "Total times the registry dispatched to a given extractor.",
			},
			[]string{"extractor"},
		),
	}
}

// Serve starts a small debug HTTP listener exposing /metrics on addr. It
// runs until ctx is canceled and logs (rather than returns) any listen
// error, since metrics are an enrichment and must never block a run.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("scrapemetrics: listening on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("scrapemetrics: listener stopped: %v", fmt.Errorf("%w", err))
	}
}
