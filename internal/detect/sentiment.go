package detect

import (
	"fmt"
	"math"

	"github.com/caseward/forensics-cli/internal/model"
)

// minSpikeHistory is how many annotated messages must precede one before its
// deviation from the rolling mean is evaluated.
const minSpikeHistory = 3

// sigmaFloor keeps a near-constant sentiment history from flagging every
// tiny wobble.
const sigmaFloor = 0.05

// sentimentSpikes flags messages whose sentiment deviates from the pair's
// rolling mean by more than SpikeSigma standard deviations. Pairs with fewer
// than SpikeMinMessages annotated messages are skipped entirely: never
// flagged on insufficient data.
func (d *Detector) sentimentSpikes(sourceID string, pairs []pairSet) []model.PatternAlert {
	var alerts []model.PatternAlert

	for _, pair := range pairs {
		var annotated []model.AnnotatedMessage
		for _, m := range pair.msgs {
			if m.Annotation != nil {
				annotated = append(annotated, m)
			}
		}
		if len(annotated) < d.cfg.SpikeMinMessages {
			continue
		}

		// Rolling statistics over the messages preceding each candidate.
		var sum, sumSq float64
		for i, m := range annotated {
			if i >= minSpikeHistory {
				n := float64(i)
				mean := sum / n
				variance := sumSq/n - mean*mean
				if variance < 0 {
					variance = 0
				}
				sigma := math.Sqrt(variance)
				if sigma < sigmaFloor {
					sigma = sigmaFloor
				}

				dev := math.Abs(m.Annotation.Sentiment - mean)
				if dev > d.cfg.SpikeSigma*sigma {
					alerts = append(alerts, newAlert(sourceID, model.AlertSentimentSpike,
						spikeSeverity(dev/sigma, d.cfg.SpikeSigma), pair,
						[]string{m.ID},
						fmt.Sprintf("sentiment %.2f deviates %.1fσ from the pair's rolling mean %.2f",
							m.Annotation.Sentiment, dev/sigma, mean),
					))
				}
			}
			sum += m.Annotation.Sentiment
			sumSq += m.Annotation.Sentiment * m.Annotation.Sentiment
		}
	}

	return alerts
}

func spikeSeverity(sigmas, threshold float64) model.AlertSeverity {
	switch {
	case sigmas >= threshold*2:
		return model.SeverityHigh
	case sigmas >= threshold*1.5:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
