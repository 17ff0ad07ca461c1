// Package observability holds the process-wide Prometheus collectors and the
// command audit log.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentTurnsTotal  *prometheus.CounterVec
	toolFallbacks    *prometheus.CounterVec

	shellCommandsTotal *prometheus.CounterVec
	shellLinesTotal    prometheus.Counter
	shellState         *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agerus_session_load_duration_seconds",
					Help:    "Conversation load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agerus_session_save_duration_seconds",
					Help:    "Conversation save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agerus_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_agent_run_total",
					Help: "Total agent runs by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agerus_agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_agent_turns_total",
					Help: "Total model turns by provider.",
				},
				[]string{"provider"},
			),
			toolFallbacks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_tool_fallback_total",
					Help: "Times a provider rejected tools and the run fell back to text actions.",
				},
				[]string{"provider"},
			),
			shellCommandsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agerus_shell_commands_total",
					Help: "Shell commands by result.",
				},
				[]string{"status"},
			),
			shellLinesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "agerus_shell_lines_total",
					Help: "Output lines read from the shell.",
				},
			),
			shellState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agerus_shell_state",
					Help: "Shell session state (1 for the current state).",
				},
				[]string{"state"},
			),
		}

		prometheus.MustRegister(
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentTurnsTotal,
			m.toolFallbacks,
			m.shellCommandsTotal,
			m.shellLinesTotal,
			m.shellState,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, outcome).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordAgentTurn(provider string) {
	getMetrics().agentTurnsTotal.WithLabelValues(provider).Inc()
}

func RecordToolFallback(provider string) {
	getMetrics().toolFallbacks.WithLabelValues(provider).Inc()
}

func RecordShellCommand(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().shellCommandsTotal.WithLabelValues(status).Inc()
}

func RecordShellLine() {
	getMetrics().shellLinesTotal.Inc()
}

// SetShellState marks state as current and clears the others.
func SetShellState(state string, all []string) {
	m := getMetrics()
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.shellState.WithLabelValues(s).Set(value)
	}
}
