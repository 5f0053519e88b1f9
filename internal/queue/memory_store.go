package queue

import (
	"context"
	"sync"
)

// InMemoryStore keeps tokens in a map guarded by one RWMutex. A Tx holds the
// write lock for its whole callback, which serializes commands in process.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]*Token)}
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *InMemoryStore) ActiveForPatient(ctx context.Context, patientID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeForPatient(patientID)
}

func (s *InMemoryStore) List(ctx context.Context, statuses ...Status) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(statuses), nil
}

// Tx runs fn against a staged copy of the touched records and applies the
// staged writes only when fn succeeds.
func (s *InMemoryStore) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]*Token)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, t := range tx.staged {
		s.tokens[id] = t
	}
	return nil
}

func (s *InMemoryStore) get(id string) (*Token, error) {
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) activeForPatient(patientID string) (*Token, error) {
	for _, t := range s.tokens {
		if t.PatientID == patientID && t.Status.Active() {
			return t.Clone(), nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *InMemoryStore) list(statuses []Status) []*Token {
	out := make([]*Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		if matchesStatus(t.Status, statuses) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func matchesStatus(status Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type memoryTx struct {
	store  *InMemoryStore
	staged map[string]*Token
}

func (tx *memoryTx) current(id string) (*Token, bool) {
	if t, ok := tx.staged[id]; ok {
		return t, true
	}
	t, ok := tx.store.tokens[id]
	return t, ok
}

func (tx *memoryTx) view() []*Token {
	out := make([]*Token, 0, len(tx.store.tokens)+len(tx.staged))
	for id, t := range tx.store.tokens {
		if staged, ok := tx.staged[id]; ok {
			t = staged
		}
		out = append(out, t)
	}
	for id, t := range tx.staged {
		if _, ok := tx.store.tokens[id]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func (tx *memoryTx) Get(ctx context.Context, id string) (*Token, error) {
	t, ok := tx.current(id)
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t.Clone(), nil
}

func (tx *memoryTx) ActiveForPatient(ctx context.Context, patientID string) (*Token, error) {
	for _, t := range tx.view() {
		if t.PatientID == patientID && t.Status.Active() {
			return t.Clone(), nil
		}
	}
	return nil, ErrTokenNotFound
}

func (tx *memoryTx) List(ctx context.Context, statuses ...Status) ([]*Token, error) {
	var out []*Token
	for _, t := range tx.view() {
		if matchesStatus(t.Status, statuses) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (tx *memoryTx) Insert(ctx context.Context, t *Token) error {
	if _, ok := tx.current(t.ID); ok {
		return ErrDuplicateActiveToken
	}
	if t.Status.Active() {
		if _, err := tx.ActiveForPatient(ctx, t.PatientID); err == nil {
			return ErrDuplicateActiveToken
		}
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

func (tx *memoryTx) Update(ctx context.Context, t *Token) error {
	if _, ok := tx.current(t.ID); !ok {
		return ErrTokenNotFound
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

func (tx *memoryTx) SetPlacements(ctx context.Context, placements []Placement) error {
	for _, p := range placements {
		cur, ok := tx.current(p.TokenID)
		if !ok {
			continue
		}
		next := cur.Clone()
		next.PriorityScore = p.PriorityScore
		next.CurrentPosition = p.Position
		next.EstimatedWaitTime = p.EstimatedWaitTime
		tx.staged[p.TokenID] = next
	}
	return nil
}
