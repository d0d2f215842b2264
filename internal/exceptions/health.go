package exceptions

import (
	"time"

	"github.com/rpattn/shiprecon/internal/domain"
)

// HealthScore rates a record from 0 to 100. Last-free-day conditions are
// checked in order and only the first that matches is deducted.
func HealthScore(record domain.Container, now time.Time) int {
	score := 100

	lfd, hasLFD := record.DateField(domain.FieldLastFreeDay)
	switch {
	case !hasLFD:
		score -= 10
	case dayBefore(lfd, now):
		score -= 40
	case lfd.Sub(now) <= 3*24*time.Hour:
		score -= 20
	}

	if eta, ok := record.DateField(domain.FieldETA); ok && dayBefore(eta, now) && domain.StageArrived.After(record.Stage) {
		score -= 15
	}
	if record.Metadata.NeedsReview {
		score -= 10
	}
	if record.Exception.Flagged() {
		score -= 20
	}
	return max(score, 0)
}

// HealthScores rates each record, keyed by container number.
func HealthScores(records []domain.Container, now time.Time) map[string]int {
	out := make(map[string]int, len(records))
	for _, r := range records {
		out[r.ContainerNumber] = HealthScore(r, now)
	}
	return out
}
