// Package detect runs the fixed battery of pattern heuristics over a
// source's normalized, annotated message set and emits alerts.
package detect

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseward/forensics-cli/internal/model"
)

// Config holds the heuristic thresholds. Zero values take the defaults
// documented on each field.
type Config struct {
	// DeletedWindow chains deleted messages of a pair into one cluster when
	// consecutive messages are closer than this. Default: 1h.
	DeletedWindow time.Duration
	// DeletedMinCount is the smallest cluster that raises an alert. Default: 3.
	DeletedMinCount int

	// BurstFraction flags a gap shorter than this fraction of the pair's
	// typical (median) gap. Default: 0.05.
	BurstFraction float64
	// SilencePercentile defines the "long silence" that must precede a
	// burst. Default: 0.95.
	SilencePercentile float64
	// MinGaps is the smallest gap sample a pair needs before the timing
	// statistics mean anything; smaller pairs are skipped. Default: 4.
	MinGaps int

	// SpikeSigma is the deviation from the pair's rolling mean, in standard
	// deviations, that flags a sentiment spike. Default: 2.
	SpikeSigma float64
	// SpikeMinMessages is the minimum annotated message count a pair needs
	// before the spike heuristic evaluates it at all. Default: 10.
	SpikeMinMessages int
}

func (c Config) withDefaults() Config {
	if c.DeletedWindow <= 0 {
		c.DeletedWindow = time.Hour
	}
	if c.DeletedMinCount <= 0 {
		c.DeletedMinCount = 3
	}
	if c.BurstFraction <= 0 {
		c.BurstFraction = 0.05
	}
	if c.SilencePercentile <= 0 {
		c.SilencePercentile = 0.95
	}
	if c.MinGaps <= 0 {
		c.MinGaps = 4
	}
	if c.SpikeSigma <= 0 {
		c.SpikeSigma = 2
	}
	if c.SpikeMinMessages <= 0 {
		c.SpikeMinMessages = 10
	}
	return c
}

// Detector runs the three heuristics independently; a message may be
// implicated by more than one. Messages without a timestamp (and, for the
// sentiment heuristic, without a score) are excluded from the statistics but
// never make a heuristic fail.
type Detector struct {
	cfg Config
}

// New creates a Detector with cfg (zero fields defaulted).
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Run executes all heuristics over one source's message set. Alerts are
// derived data: the same input set always yields the same alerts up to
// ordering and identifiers.
func (d *Detector) Run(sourceID string, msgs []model.AnnotatedMessage) []model.PatternAlert {
	pairs := groupByPair(msgs)

	var alerts []model.PatternAlert
	alerts = append(alerts, d.deletedClusters(sourceID, pairs)...)
	alerts = append(alerts, d.timingAnomalies(sourceID, pairs)...)
	alerts = append(alerts, d.sentimentSpikes(sourceID, pairs)...)

	zap.L().Info("detect: heuristics complete",
		zap.String("source_id", sourceID),
		zap.Int("pairs", len(pairs)),
		zap.Int("alerts", len(alerts)),
	)
	return alerts
}

// pairSet is one unordered participant pair's timestamped messages in
// chronological order.
type pairSet struct {
	a, b string
	msgs []model.AnnotatedMessage
}

// groupByPair buckets messages by unordered (sender, recipient) pair. Only
// messages with a defined timestamp participate in detection. The result is
// sorted by pair key so detection output is deterministic.
func groupByPair(msgs []model.AnnotatedMessage) []pairSet {
	buckets := map[[2]string][]model.AnnotatedMessage{}
	for _, m := range msgs {
		if m.SentAt == nil {
			continue
		}
		for _, r := range m.Recipients {
			key := [2]string{m.Sender, r}
			if key[1] < key[0] {
				key[0], key[1] = key[1], key[0]
			}
			buckets[key] = append(buckets[key], m)
		}
	}

	pairs := make([]pairSet, 0, len(buckets))
	for key, ms := range buckets {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].SentAt.Before(*ms[j].SentAt) })
		pairs = append(pairs, pairSet{a: key[0], b: key[1], msgs: ms})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	return pairs
}

func newAlert(sourceID string, kind model.AlertKind, severity model.AlertSeverity, pair pairSet, msgIDs []string, justification string) model.PatternAlert {
	return model.PatternAlert{
		ID:            uuid.New().String(),
		SourceID:      sourceID,
		Kind:          kind,
		Severity:      severity,
		Participants:  []string{pair.a, pair.b},
		MessageIDs:    msgIDs,
		Justification: justification,
		DetectedAt:    time.Now().UTC(),
	}
}
