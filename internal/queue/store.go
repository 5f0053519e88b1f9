package queue

import (
	"context"
	"sort"
)

// Reader is the read side of the token store. Returned tokens are copies.
type Reader interface {
	Get(ctx context.Context, id string) (*Token, error)
	ActiveForPatient(ctx context.Context, patientID string) (*Token, error)
	List(ctx context.Context, statuses ...Status) ([]*Token, error)
}

// Tx is one atomic unit of work. Reads through a Tx observe the same state
// that its writes commit against.
type Tx interface {
	Reader
	Insert(ctx context.Context, t *Token) error
	Update(ctx context.Context, t *Token) error
	// SetPlacements writes ranking fields for many tokens in one statement.
	SetPlacements(ctx context.Context, placements []Placement) error
}

// Store owns every Token. All mutation goes through Tx.
type Store interface {
	Reader
	// Tx runs fn atomically; a returned error discards every write fn made.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SortWaiting orders tokens by score descending, then arrival ascending. The
// token number breaks exact ties so the order never depends on collection order.
func SortWaiting(tokens []*Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.ArrivalTime.Equal(b.ArrivalTime) {
			return a.ArrivalTime.Before(b.ArrivalTime)
		}
		return tokenNumberLess(a.TokenNumber, b.TokenNumber)
	})
}

// tokenNumberLess orders same-day numbers numerically: a longer sequence
// suffix is a later number once a day passes 999 tokens.
func tokenNumberLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
