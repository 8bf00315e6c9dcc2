// Package metrics exposes live load-generator counters to Prometheus. The
// numbers that end up in results come from the HDR recorders, not from here.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"xferbench/internal/outcome"
)

const namespace = "xferbench"

type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	retries  prometheus.Counter
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	run      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Classified transfer requests.",
		}, []string{"phase", "kind", "reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_dropped_total",
			Help:      "Open-loop slots dropped at the in-flight ceiling.",
		}, []string{"phase"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_retries_total",
			Help:      "Retries spent on serialization conflicts.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_latency_seconds",
			Help:      "Latency of transfers that completed or were rejected.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"phase"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_in_flight",
			Help:      "Outstanding transfer requests.",
		}),
		run: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_info",
			Help:      "Set to 1 for the run currently executing.",
		}, []string{"run_id", "phase"}),
	}
	m.Registry.MustRegister(m.requests, m.dropped, m.retries, m.latency, m.inFlight, m.run)
	return m
}

// Observe is a no-op on a nil receiver so callers need not check.
func (m *Metrics) Observe(phase string, o outcome.Outcome, retries int, latency time.Duration) {
	if m == nil {
		return
	}
	reason := ""
	if o.Reason != outcome.None {
		reason = o.Reason.String()
	}
	m.requests.WithLabelValues(phase, o.Kind.String(), reason).Inc()
	if retries > 0 {
		m.retries.Add(float64(retries))
	}
	if o.Succeeded() {
		m.latency.WithLabelValues(phase).Observe(latency.Seconds())
	}
}

func (m *Metrics) Drop(phase string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(phase).Inc()
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

// SetPhase marks runID as being in phase, clearing earlier labels.
func (m *Metrics) SetPhase(runID, phase string) {
	if m == nil {
		return
	}
	m.run.Reset()
	m.run.WithLabelValues(runID, phase).Set(1)
}

// Serve exposes /metrics on port until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
}
