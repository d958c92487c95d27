package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level Prometheus collectors
type Metrics struct {
	ModuleState  *prometheus.GaugeVec
	ModuleErrors *prometheus.CounterVec

	LoopTicks    *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec

	CommandsDispatched *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	SafetyWarnings     *prometheus.CounterVec

	MessagesPublished prometheus.Gauge
	MessagesDropped   prometheus.Gauge

	EmergencyStop prometheus.Gauge
	CPUUsage      prometheus.Gauge
	MemoryUsage   prometheus.Gauge
}

// NewMetrics creates the core collectors. Everything is namespaced under
// "dcs" and labelled by module or loop name.
func NewMetrics() *Metrics {
	return &Metrics{
		ModuleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "module",
				Name:      "state",
				Help:      "Module lifecycle state (0=uninitialized, 2=ready, 3=running, 4=paused, 5=error, 6=shutdown)",
			},
			[]string{"module"},
		),

		ModuleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcs",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total number of module processing errors",
			},
			[]string{"module"},
		),

		LoopTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcs",
				Subsystem: "loop",
				Name:      "ticks_total",
				Help:      "Total number of completed control loop ticks",
			},
			[]string{"loop"},
		),

		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dcs",
				Subsystem: "loop",
				Name:      "tick_duration_seconds",
				Help:      "Control loop tick execution time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000025, 4, 10),
			},
			[]string{"loop"},
		),

		CommandsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcs",
				Subsystem: "actuator",
				Name:      "commands_dispatched_total",
				Help:      "Total number of commands dispatched to actuators",
			},
			[]string{"actuator"},
		),

		CommandsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcs",
				Subsystem: "actuator",
				Name:      "commands_rejected_total",
				Help:      "Total number of commands rejected by the safety interlock",
			},
			[]string{"actuator"},
		),

		SafetyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dcs",
				Subsystem: "safety",
				Name:      "warnings_total",
				Help:      "Total number of high-output safety warnings",
			},
			[]string{"actuator"},
		),

		MessagesPublished: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "ipc",
				Name:      "messages_published",
				Help:      "Messages published to the queue since startup",
			},
		),

		MessagesDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "ipc",
				Name:      "messages_dropped",
				Help:      "Messages dropped by the queue since startup",
			},
		),

		EmergencyStop: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "safety",
				Name:      "emergency_stop",
				Help:      "Emergency stop latch (0=clear, 1=active)",
			},
		),

		CPUUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "system",
				Name:      "cpu_usage_ratio",
				Help:      "Process CPU usage as a fraction of one core",
			},
		),

		MemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dcs",
				Subsystem: "system",
				Name:      "memory_usage_bytes",
				Help:      "Process heap memory in use",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ModuleState,
		m.ModuleErrors,
		m.LoopTicks,
		m.TickDuration,
		m.CommandsDispatched,
		m.CommandsRejected,
		m.SafetyWarnings,
		m.MessagesPublished,
		m.MessagesDropped,
		m.EmergencyStop,
		m.CPUUsage,
		m.MemoryUsage,
	}
}
