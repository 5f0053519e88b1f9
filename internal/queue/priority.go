package queue

import "time"

const (
	// WaitBonusPerMinute is added to the score for every minute since arrival.
	WaitBonusPerMinute = 0.1
	// SkipPenalty is subtracted from the adjustment each time a token is skipped.
	SkipPenalty = 20.0
	// DefaultConsultationMinutes is the per-position wait estimate.
	DefaultConsultationMinutes = 10
)

var baseScores = map[PriorityClass]float64{
	PriorityEmergency: 100,
	PrioritySenior:    50,
	PriorityNormal:    10,
}

// BaseScore returns the class base; unknown classes score as normal.
func BaseScore(class PriorityClass) float64 {
	if base, ok := baseScores[class]; ok {
		return base
	}
	return baseScores[PriorityNormal]
}

// Score derives a token's priority. adjustment is persisted separately and is
// never folded into base or wait bonus, so a skip penalty stays fixed while the
// wait bonus keeps growing.
func Score(class PriorityClass, arrival, now time.Time, adjustment float64) float64 {
	waited := now.Sub(arrival).Minutes()
	return BaseScore(class) + waited*WaitBonusPerMinute + adjustment
}

// Rescore refreshes t.PriorityScore for now and returns it.
func Rescore(t *Token, now time.Time) float64 {
	t.PriorityScore = Score(t.PriorityClass, t.ArrivalTime, now, t.Adjustment)
	return t.PriorityScore
}
