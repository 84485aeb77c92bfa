package model

import "time"

// Window tags a rolling metrics window.
type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// WindowDuration returns the span of a window, or 0 for unknown tags.
func WindowDuration(w Window) time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// AgentMetrics is a derived, point-in-time rollup of one agent's decision
// history over a window. Not authoritative state; recomputed on read.
type AgentMetrics struct {
	AgentID        string        `json:"agent_id"`
	Window         Window        `json:"window"`
	TasksProcessed int           `json:"tasks_processed"`
	TasksCompleted int           `json:"tasks_completed"`
	AvgProcessing  time.Duration `json:"avg_processing"`

	// AccuracyProxy is completed-without-human-override / processed.
	// It conflates "no override" with "correct" and must not be read as
	// ground-truth accuracy.
	AccuracyProxy float64 `json:"accuracy_proxy"`

	// OverrideRate is human-overridden / processed.
	OverrideRate float64 `json:"override_rate"`
}
