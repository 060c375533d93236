// Package metrics holds the client-side Prometheus collectors and the
// optional /metrics listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adflow"

type Metrics struct {
	Registry *prometheus.Registry

	Frames          prometheus.Counter
	MalformedFrames prometheus.Counter
	Retries         *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	Preflights      *prometheus.CounterVec
	HealthProbes    *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	Sources         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "SSE frames dispatched by the run stream decoder.",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_frames_total",
			Help:      "SSE frames whose payload was not a JSON object.",
		}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried backend calls by operation.",
		}, []string{"op"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Submitted agent runs by outcome.",
		}, []string{"outcome"}),
		Preflights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_total",
			Help:      "Preflight validations by outcome.",
		}, []string{"outcome"}),
		HealthProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Backend liveness probes by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from submit to end of stream.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Sources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_seen",
			Help:      "Highest source count reported in the current session.",
		}),
	}
	m.Registry.MustRegister(
		m.Frames,
		m.MalformedFrames,
		m.Retries,
		m.Runs,
		m.Preflights,
		m.HealthProbes,
		m.RunDuration,
		m.Sources,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
}
