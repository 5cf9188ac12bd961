package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	renderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "render_events_total",
		Help:      "Render callbacks received, by event type.",
	}, []string{"type"})

	skippedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "skipped_actions_total",
		Help:      "Action evaluations not fanned out, by reason.",
	}, []string{"reason"})

	projections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "projections_total",
		Help:      "Avatar state projections, by result.",
	}, []string{"result"})

	droppedJobs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "dropped_jobs_total",
		Help:      "Queued fan-out jobs dropped because an agent's lane was full.",
	})

	renderPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "render_panics_total",
		Help:      "Render callbacks that panicked and were isolated.",
	})

	activeLanes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ncfeed",
		Subsystem: "dispatch",
		Name:      "active_lanes",
		Help:      "Agents with fan-out work in progress.",
	})
)
