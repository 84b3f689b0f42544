package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records into a private registry served by Handler.
type Prometheus struct {
	registry  *prometheus.Registry
	runs      *prometheus.CounterVec
	retries   *prometheus.CounterVec
	reminders *prometheus.CounterVec
	requests  *prometheus.HistogramVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus registers the collectors under namespace (lower-cased).
func NewPrometheus(namespace string) *Prometheus {
	ns := strings.ToLower(namespace)
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "workflow", Name: "run_outcomes_total",
			Help: "Workflow executions by outcome.",
		}, []string{"workflow", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "workflow", Name: "step_retries_total",
			Help: "Failed step attempts scheduled for retry.",
		}, []string{"workflow", "step"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "reminder", Name: "deliveries_total",
			Help: "Reminder emails by provider, offset and result.",
		}, []string{"provider", "days_before", "result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}
	p.registry.MustRegister(
		p.runs, p.retries, p.reminders, p.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) RecordRunOutcome(_ context.Context, workflow, outcome string) {
	p.runs.WithLabelValues(workflow, outcome).Inc()
}

func (p *Prometheus) RecordStepRetry(_ context.Context, workflow, step string) {
	p.retries.WithLabelValues(workflow, stepFamily(step)).Inc()
}

func (p *Prometheus) RecordReminder(_ context.Context, provider string, daysBefore int, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	p.reminders.WithLabelValues(provider, strconv.Itoa(daysBefore), result).Inc()
}

func (p *Prometheus) RecordRequest(_ context.Context, endpoint string, status int, d time.Duration) {
	p.requests.WithLabelValues(endpoint, statusClass(status)).Observe(d.Seconds())
}

func (p *Prometheus) Flush(context.Context) error { return nil }
