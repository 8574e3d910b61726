package model

import "time"

// AlertKind names one of the pattern-detection heuristics.
type AlertKind string

const (
	AlertDeletedCluster AlertKind = "deleted_cluster"
	AlertTimingAnomaly  AlertKind = "timing_anomaly"
	AlertSentimentSpike AlertKind = "sentiment_spike"
)

// AlertSeverity grades a pattern alert.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// PatternAlert is one detected anomaly. Alerts are derived data: regenerated
// on every analysis run from the canonical message set, never hand-edited.
type PatternAlert struct {
	ID           string        `json:"id"`
	SourceID     string        `json:"source_id"`
	Kind         AlertKind     `json:"kind"`
	Severity     AlertSeverity `json:"severity"`
	Participants []string      `json:"participants"`
	MessageIDs   []string      `json:"message_ids"`
	// Justification is the human-readable explanation of why the heuristic
	// fired, including the numbers that tripped it.
	Justification string    `json:"justification"`
	DetectedAt    time.Time `json:"detected_at"`
}

// AnalysisVersion ties together the artifacts produced by one analysis run.
// Versions are immutable once written; a re-analysis writes the next version
// and atomically promotes it.
type AnalysisVersion struct {
	SourceID  string         `json:"source_id"`
	Version   int            `json:"version"`
	Graph     *NetworkGraph  `json:"graph,omitempty"`
	Alerts    []PatternAlert `json:"alerts,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
