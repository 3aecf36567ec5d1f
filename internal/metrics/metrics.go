// ABOUTME: Prometheus instrumentation for executor calls, health sweeps and the MCP gateway.
// ABOUTME: All methods are nil-safe so components can run without metrics wired.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	executorDuration *prometheus.HistogramVec
	routeErrors      *prometheus.CounterVec
	sweeps           *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	toolChecks       *prometheus.CounterVec
	brokenTools      prometheus.Gauge
	verifications    *prometheus.CounterVec
	mcpRequests      *prometheus.CounterVec
	rescores         prometheus.Counter
}

// New registers collectors on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(reg, reg)
}

// NewWithRegisterer registers collectors on registerer. gatherer backs Handler
// and may be nil when the caller serves metrics elsewhere.
func NewWithRegisterer(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		gatherer: gatherer,
		executorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolshed_executor_request_duration_seconds",
				Help:    "Duration of executor requests in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 60},
			},
			[]string{"op", "executor", "status"},
		),
		routeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolshed_route_errors_total",
				Help: "Routed tool calls that failed at the transport level, by code",
			},
			[]string{"executor", "code"},
		),
		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolshed_health_sweeps_total",
				Help: "Health sweeps by result",
			},
			[]string{"result"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolshed_health_sweep_duration_seconds",
				Help:    "Duration of full health sweeps in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		toolChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolshed_tool_health_checks_total",
				Help: "Per-tool health checks by import and execution state",
			},
			[]string{"import", "execution"},
		),
		brokenTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolshed_broken_tools",
				Help: "Tools flagged broken by the most recent sweep",
			},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolshed_executor_verifications_total",
				Help: "Custom executor verifications by outcome",
			},
			[]string{"valid"},
		),
		mcpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolshed_mcp_requests_total",
				Help: "MCP JSON-RPC requests by method and outcome",
			},
			[]string{"method", "status"},
		),
		rescores: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolshed_quality_rescores_total",
				Help: "Completed quality rescoring passes",
			},
		),
	}
}

// Handler serves the gatherer in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveExecutor records one executor call.
func (m *Metrics) ObserveExecutor(op, executor string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.executorDuration.WithLabelValues(op, executor, status(err)).Observe(duration.Seconds())
}

// ObserveRouteError counts a typed routing failure.
func (m *Metrics) ObserveRouteError(executor, code string) {
	if m == nil {
		return
	}
	m.routeErrors.WithLabelValues(executor, code).Inc()
}

// ObserveSweep records a finished sweep and the broken count it produced.
func (m *Metrics) ObserveSweep(duration time.Duration, broken int, err error) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.brokenTools.Set(float64(broken))
}

// ObserveToolCheck counts one per-tool health result.
func (m *Metrics) ObserveToolCheck(importHealth, executionHealth string) {
	if m == nil {
		return
	}
	m.toolChecks.WithLabelValues(importHealth, executionHealth).Inc()
}

// ObserveVerification counts one executor verification.
func (m *Metrics) ObserveVerification(valid bool) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.verifications.WithLabelValues(label).Inc()
}

// ObserveMCPRequest counts one JSON-RPC request.
func (m *Metrics) ObserveMCPRequest(method string, err error) {
	if m == nil {
		return
	}
	m.mcpRequests.WithLabelValues(method, status(err)).Inc()
}

// ObserveRescore counts one rescoring pass.
func (m *Metrics) ObserveRescore() {
	if m == nil {
		return
	}
	m.rescores.Inc()
}
