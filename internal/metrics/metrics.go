// Package metrics exposes Prometheus instruments for indexing and queries.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpdatesApplied counts archive changes applied to a view, by change type.
	UpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_updates_applied_total",
		Help: "Archive changes applied to views",
	}, []string{"view", "type"})

	// PassDuration tracks how long one archive synchronization pass takes.
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapview_pass_duration_seconds",
		Help:    "Archive synchronization pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	})

	// PassErrors counts failed passes by error class.
	PassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_pass_errors_total",
		Help: "Failed synchronization passes by error class",
	}, []string{"class"})

	// RetryLoops is the number of archives waiting to become reachable.
	RetryLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapview_retry_loops",
		Help: "Archives in the unreachable retry loop",
	})

	// IndexedArchives is the size of the active archive set.
	IndexedArchives = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapview_indexed_archives",
		Help: "Archives currently indexed by this process",
	})

	// Queries counts view reads by operation.
	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_queries_total",
		Help: "View queries by operation",
	}, []string{"op"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics endpoint listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
