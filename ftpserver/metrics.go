package ftpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PathRedactor rewrites a virtual path before it reaches a log line.
type PathRedactor func(path string) string

// MetricsCollector observes server activity. All methods are called
// inline from the session goroutine and must not block.
type MetricsCollector interface {
	RecordCommand(cmd string, success bool, duration time.Duration)
	RecordTransfer(operation string, bytes int64, duration time.Duration)
	RecordConnection(accepted bool, reason string)
	RecordAuthentication(success bool, user string)
}

// PrometheusMetrics is the concrete MetricsCollector this server ships,
// grounded on the teacher's MetricsCollector contract but backed by
// real counters/histograms instead of leaving the implementation to
// callers.
type PrometheusMetrics struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	transferBytes   *prometheus.CounterVec
	transferSeconds *prometheus.HistogramVec
	connections     *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
}

// NewPrometheusMetrics registers its collectors against reg and returns
// a ready-to-use MetricsCollector. Pass prometheus.NewRegistry() for an
// isolated registry, or prometheus.DefaultRegisterer to hook into the
// process-wide one.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd",
			Name:      "commands_total",
			Help:      "FTP commands processed, by command and outcome.",
		}, []string{"command", "success"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ftpd",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved by RETR/STOR/APPE, by operation.",
		}, []string{"operation"}),
		transferSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ftpd",
			Name:      "transfer_duration_seconds",
			Help:      "Transfer duration, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd",
			Name:      "connections_total",
			Help:      "Control connection attempts, by outcome.",
		}, []string{"accepted", "reason"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ftpd",
			Name:      "authentication_attempts_total",
			Help:      "Login attempts, by outcome. User is not a label: unbounded cardinality.",
		}, []string{"success"}),
	}
	reg.MustRegister(m.commands, m.commandDuration, m.transferBytes, m.transferSeconds, m.connections, m.authAttempts)
	return m
}

func (m *PrometheusMetrics) RecordCommand(cmd string, success bool, duration time.Duration) {
	m.commands.WithLabelValues(cmd, boolLabel(success)).Inc()
	m.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	m.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	m.transferSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordConnection(accepted bool, reason string) {
	m.connections.WithLabelValues(boolLabel(accepted), reason).Inc()
}

func (m *PrometheusMetrics) RecordAuthentication(success bool, user string) {
	m.authAttempts.WithLabelValues(boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
