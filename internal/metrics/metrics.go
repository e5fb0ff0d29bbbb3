// Package metrics exposes watcher activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mmloader/internal/logging"
)

// Result label values for ProcessingRuns.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Watcher holds the watcher's collectors.
type Watcher struct {
	FilesDetected  prometheus.Counter
	ProcessingRuns *prometheus.CounterVec
	LastActivity   prometheus.Gauge
	TrackedFiles   prometheus.Gauge
}

// NewWatcher creates the watcher collectors and registers them on reg.
func NewWatcher(reg prometheus.Registerer) (*Watcher, error) {
	w := &Watcher{
		FilesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmloader_watcher_files_detected_total",
			Help: "New document files seen by the watcher.",
		}),
		ProcessingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmloader_watcher_processing_runs_total",
			Help: "Processing passes started by the watcher, by result.",
		}, []string{"result"}),
		LastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mmloader_watcher_last_activity_timestamp_seconds",
			Help: "Unix time of the last successful processing pass.",
		}),
		TrackedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mmloader_watcher_tracked_files",
			Help: "Document files already marked as processed.",
		}),
	}
	if reg == nil {
		return w, nil
	}
	for _, c := range []prometheus.Collector{w.FilesDetected, w.ProcessingRuns, w.LastActivity, w.TrackedFiles} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	// Pre-create both label values so they are scraped as zero.
	w.ProcessingRuns.WithLabelValues(ResultSuccess)
	w.ProcessingRuns.WithLabelValues(ResultFailure)
	return w, nil
}

// ObserveRun records one processing pass.
func (w *Watcher) ObserveRun(success bool, at time.Time) {
	if w == nil {
		return
	}
	if success {
		w.ProcessingRuns.WithLabelValues(ResultSuccess).Inc()
		w.LastActivity.Set(float64(at.Unix()))
		return
	}
	w.ProcessingRuns.WithLabelValues(ResultFailure).Inc()
}

// ObserveDetected adds n newly detected files.
func (w *Watcher) ObserveDetected(n int) {
	if w == nil || n <= 0 {
		return
	}
	w.FilesDetected.Add(float64(n))
}

// SetTracked records the size of the processed set.
func (w *Watcher) SetTracked(n int) {
	if w == nil {
		return
	}
	w.TrackedFiles.Set(float64(n))
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics mux for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve exposes reg on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("metrics endpoint listening", logging.String("addr", listener.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
