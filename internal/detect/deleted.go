package detect

import (
	"fmt"
	"time"

	"github.com/caseward/forensics-cli/internal/model"
)

// deletedClusters groups deleted-by-source-metadata messages per pair into
// time-window chains; a chain at or above the minimum count yields one alert
// with severity scaling with chain size.
func (d *Detector) deletedClusters(sourceID string, pairs []pairSet) []model.PatternAlert {
	var alerts []model.PatternAlert

	for _, pair := range pairs {
		var deleted []model.AnnotatedMessage
		for _, m := range pair.msgs {
			if m.Deleted {
				deleted = append(deleted, m)
			}
		}

		var cluster []model.AnnotatedMessage
		flush := func() {
			if len(cluster) >= d.cfg.DeletedMinCount {
				ids := make([]string, len(cluster))
				for i, m := range cluster {
					ids[i] = m.ID
				}
				span := cluster[len(cluster)-1].SentAt.Sub(*cluster[0].SentAt)
				alerts = append(alerts, newAlert(sourceID, model.AlertDeletedCluster,
					deletedSeverity(len(cluster), d.cfg.DeletedMinCount), pair, ids,
					fmt.Sprintf("%d deleted messages between %s and %s exchanged within %s",
						len(cluster), pair.a, pair.b, span.Round(time.Second)),
				))
			}
			cluster = nil
		}

		for _, m := range deleted {
			if len(cluster) > 0 &&
				m.SentAt.Sub(*cluster[len(cluster)-1].SentAt) > d.cfg.DeletedWindow {
				flush()
			}
			cluster = append(cluster, m)
		}
		flush()
	}

	return alerts
}

func deletedSeverity(size, minCount int) model.AlertSeverity {
	switch {
	case size >= minCount*3:
		return model.SeverityHigh
	case size >= minCount*2:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
