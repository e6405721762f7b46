package incident

import "time"

// Aggregate folds one member event into the incident: Score becomes the max of
// the current score and score, LastEventAt the latest of the current value and
// occurredAt in UTC. Repeated or reordered application gives the same result.
func Aggregate(inc *Incident, score float64, occurredAt time.Time) {
	if inc.Score == nil || score > *inc.Score {
		s := score
		inc.Score = &s
	}
	t := occurredAt.UTC()
	if inc.LastEventAt == nil || t.After(*inc.LastEventAt) {
		inc.LastEventAt = &t
	}
}
