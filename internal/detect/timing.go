package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/caseward/forensics-cli/internal/model"
)

// timingAnomalies flags burst-after-silence patterns: per pair, a gap
// shorter than BurstFraction of the pair's typical (median) gap occurring
// immediately after a silence longer than the pair's SilencePercentile gap.
// Pairs with fewer than MinGaps gaps are skipped: too little data for the
// statistics, which is a recorded skip, not an error.
func (d *Detector) timingAnomalies(sourceID string, pairs []pairSet) []model.PatternAlert {
	var alerts []model.PatternAlert

	for _, pair := range pairs {
		if len(pair.msgs) < d.cfg.MinGaps+1 {
			continue
		}

		gaps := make([]time.Duration, 0, len(pair.msgs)-1)
		for i := 1; i < len(pair.msgs); i++ {
			gaps = append(gaps, pair.msgs[i].SentAt.Sub(*pair.msgs[i-1].SentAt))
		}

		typical := durationPercentile(gaps, 0.5)
		silence := durationPercentile(gaps, d.cfg.SilencePercentile)
		if typical <= 0 {
			continue
		}
		burstCut := time.Duration(float64(typical) * d.cfg.BurstFraction)

		// gaps[i] separates msgs[i] and msgs[i+1]; a silence at i followed
		// by a burst at i+1 implicates msgs[i+1] and msgs[i+2].
		for i := 0; i+1 < len(gaps); i++ {
			if gaps[i] <= silence || gaps[i+1] >= burstCut {
				continue
			}
			alerts = append(alerts, newAlert(sourceID, model.AlertTimingAnomaly,
				model.SeverityMedium, pair,
				[]string{pair.msgs[i+1].ID, pair.msgs[i+2].ID},
				fmt.Sprintf("burst of messages %s apart after %s of silence (typical gap %s)",
					gaps[i+1].Round(time.Second), gaps[i].Round(time.Second), typical.Round(time.Second)),
			))
		}
	}

	return alerts
}

// durationPercentile is the nearest-rank percentile of gaps; gaps must be
// non-empty.
func durationPercentile(gaps []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(gaps))
	copy(sorted, gaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
