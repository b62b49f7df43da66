// Package metrics exposes Prometheus collectors for the secretary.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "secretary"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	intents     *prometheus.CounterVec
	extractions *prometheus.CounterVec
	reminders   *prometheus.CounterVec
	activeJobs  prometheus.Gauge
	briefings   *prometheus.CounterVec
}

// MustNew registers the collectors with reg and panics on conflict.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "intents_total",
			Help:      "Intents handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "requests_total",
			Help:      "Intent extraction calls, by outcome.",
		}, []string{"outcome"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Reminder firings, by role and status.",
		}, []string{"role", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs",
			Help:      "Reminder jobs currently registered.",
		}),
		briefings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "briefing",
			Name:      "deliveries_total",
			Help:      "Daily briefing deliveries, by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.intents, m.extractions, m.reminders, m.activeJobs, m.briefings)
	return m
}

// IncIntent counts a routed intent.
func (m *Metrics) IncIntent(kind, outcome string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(kind, outcome).Inc()
}

// IncExtraction counts an extraction call.
func (m *Metrics) IncExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome).Inc()
}

// IncFiring counts a reminder firing.
func (m *Metrics) IncFiring(role, status string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(role, status).Inc()
}

// SetJobs records how many jobs are registered.
func (m *Metrics) SetJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

// IncBriefing counts a briefing delivery.
func (m *Metrics) IncBriefing(status string) {
	if m == nil {
		return
	}
	m.briefings.WithLabelValues(status).Inc()
}

// Serve exposes /metrics for gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
