package queue

import (
	"context"
	"fmt"
	"time"
)

// Ranker recomputes positions and wait estimates for the waiting pool.
type Ranker struct {
	consultationMinutes int
}

// NewRanker returns a ranker estimating minutes per position; non-positive
// values fall back to DefaultConsultationMinutes.
func NewRanker(consultationMinutes int) *Ranker {
	if consultationMinutes <= 0 {
		consultationMinutes = DefaultConsultationMinutes
	}
	return &Ranker{consultationMinutes: consultationMinutes}
}

// ConsultationMinutes returns the per-position estimate.
func (r *Ranker) ConsultationMinutes() int {
	return r.consultationMinutes
}

// Rank rescores and orders waiting in place without touching storage.
// Positions start at 1.
func (r *Ranker) Rank(waiting []*Token, now time.Time) []Placement {
	for _, t := range waiting {
		Rescore(t, now)
	}
	SortWaiting(waiting)
	placements := make([]Placement, len(waiting))
	for i, t := range waiting {
		t.CurrentPosition = i + 1
		t.EstimatedWaitTime = i * r.consultationMinutes
		placements[i] = Placement{
			TokenID:           t.ID,
			PriorityScore:     t.PriorityScore,
			Position:          t.CurrentPosition,
			EstimatedWaitTime: t.EstimatedWaitTime,
		}
	}
	return placements
}

// Recalculate ranks every waiting token visible in tx and persists the result
// with a single SetPlacements call. The returned slice is in queue order.
func (r *Ranker) Recalculate(ctx context.Context, tx Tx, now time.Time) ([]*Token, error) {
	waiting, err := tx.List(ctx, StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("queue: list waiting: %w", err)
	}
	placements := r.Rank(waiting, now)
	if len(placements) == 0 {
		return waiting, nil
	}
	if err := tx.SetPlacements(ctx, placements); err != nil {
		return nil, fmt.Errorf("queue: write placements: %w", err)
	}
	return waiting, nil
}
