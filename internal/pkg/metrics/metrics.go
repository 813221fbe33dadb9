package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics. It holds the robot metrics below plus the
// Go runtime and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// PowerPercent is the last reported power level of a robot.
	PowerPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vacuumsim_power_percent",
			Help: "Current power level of the simulated robot (0-100).",
		},
		[]string{"device"},
	)

	// CyclesTotal counts started cycles. kind: cleaning/charging
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacuumsim_cycles_total",
			Help: "Total number of cleaning and charging cycles started.",
		},
		[]string{"device", "kind"},
	)

	// EventsPublishedTotal counts publish attempts. status: success/failed/dropped
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacuumsim_events_published_total",
			Help: "Total number of lifecycle events handed to the event sink.",
		},
		[]string{"event", "status"},
	)

	// CommandsTotal counts received commands. result: applied/ignored/rejected
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacuumsim_commands_total",
			Help: "Total number of remote commands received.",
		},
		[]string{"action", "result"},
	)

	// LifecyclePhase is 1 for the current phase of a robot and 0 otherwise.
	LifecyclePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vacuumsim_lifecycle_phase",
			Help: "Current lifecycle phase of the simulated robot (1 = current).",
		},
		[]string{"device", "phase"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PowerPercent,
		CyclesTotal,
		EventsPublishedTotal,
		CommandsTotal,
		LifecyclePhase,
	)
}
