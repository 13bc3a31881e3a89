// Package metrics instruments the collection pipeline with Prometheus counters.
//
// All methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modoterra/idevlog/pkg/core"
)

// Metrics holds the collector's instruments.
type Metrics struct {
	ProbeAttempts *prometheus.CounterVec
	LinesRead     prometheus.Counter
	LinesEnqueued prometheus.Counter
	LinesWritten  prometheus.Counter
	BytesWritten  prometheus.Counter
	LinesMatched  prometheus.Counter
	Rotations     prometheus.Counter
	QueueDepth    prometheus.Gauge
	Sessions      *prometheus.CounterVec
}

// New registers the collector's instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProbeAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idevlog_probe_attempts_total",
			Help: "Device connectivity probes by result",
		}, []string{"result"}),
		LinesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_lines_read_total",
			Help: "Raw lines read from the device log stream",
		}),
		LinesEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_lines_enqueued_total",
			Help: "Lines that passed the application filter and were queued",
		}),
		LinesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_lines_written_total",
			Help: "Lines appended to the output file",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_bytes_written_total",
			Help: "Bytes appended to the output file",
		}),
		LinesMatched: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_lines_matched_total",
			Help: "Persisted lines that matched the output keyword",
		}),
		Rotations: f.NewCounter(prometheus.CounterOpts{
			Name: "idevlog_output_rotations_total",
			Help: "Output file rotations",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "idevlog_queue_depth",
			Help: "Lines waiting between producer and writer",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idevlog_sessions_total",
			Help: "Finished collection sessions by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveProbe(r core.ProbeResult) {
	if m == nil {
		return
	}
	m.ProbeAttempts.WithLabelValues(r.String()).Inc()
}

func (m *Metrics) ObserveRead() {
	if m == nil {
		return
	}
	m.LinesRead.Inc()
}

func (m *Metrics) ObserveEnqueue(depth int) {
	if m == nil {
		return
	}
	m.LinesEnqueued.Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveWrite(n int, depth int) {
	if m == nil {
		return
	}
	m.LinesWritten.Inc()
	m.BytesWritten.Add(float64(n))
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveMatch() {
	if m == nil {
		return
	}
	m.LinesMatched.Inc()
}

func (m *Metrics) ObserveRotation() {
	if m == nil {
		return
	}
	m.Rotations.Inc()
}

func (m *Metrics) ObserveSession(status string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(status).Inc()
}

// Serve exposes the registry on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server %s: %w", addr, err)
	}
	return nil
}
