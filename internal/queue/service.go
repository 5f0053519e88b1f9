package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

var queueTracer = otel.Tracer("clinicqueue.internal.queue")

// NumberAllocator issues token numbers for the clinic day containing now.
type NumberAllocator interface {
	NextTokenNumber(ctx context.Context, now time.Time) (string, error)
}

// Service runs the token state machine. Each command is one Store transaction
// followed by a recalculation in the same transaction and a best-effort publish.
type Service struct {
	store     Store
	allocator NumberAllocator
	ranker    *Ranker
	publisher Publisher
	audit     AuditRecorder
	metrics   *metrics.QueueMetrics
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher sets the realtime publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAudit records every committed transition.
func WithAudit(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.QueueMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRanker overrides the default ranker.
func WithRanker(r *Ranker) Option {
	return func(s *Service) {
		if r != nil {
			s.ranker = r
		}
	}
}

// WithIDGenerator replaces uuid token ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService wires a queue service.
func NewService(store Store, allocator NumberAllocator, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("queue: store required")
	}
	if allocator == nil {
		panic("queue: allocator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:     store,
		allocator: allocator,
		ranker:    NewRanker(DefaultConsultationMinutes),
		publisher: noopPublisher{},
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue creates a waiting token for a new booking.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "enqueue", "")
	defer func() { done(err) }()

	class, err := req.Validate()
	if err != nil {
		return nil, err
	}
	now := s.now()

	var snapshot []*Token
	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ActiveForPatient(ctx, req.PatientID); err == nil {
			return ErrDuplicateActiveToken
		} else if !errors.Is(err, ErrTokenNotFound) {
			return err
		}

		number, err := s.allocator.NextTokenNumber(ctx, now)
		if err != nil {
			return err
		}
		created := &Token{
			ID:            s.newID(),
			TokenNumber:   number,
			PatientID:     req.PatientID,
			AppointmentID: req.AppointmentID,
			PriorityClass: class,
			ArrivalTime:   now,
			Status:        StatusWaiting,
		}
		Rescore(created, now)
		if err := tx.Insert(ctx, created); err != nil {
			return err
		}
		snapshot, err = s.ranker.Recalculate(ctx, tx, now)
		if err != nil {
			return err
		}
		tok = findToken(snapshot, created.ID, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTokensIssued()
	s.logger.Info("token enqueued",
		"token_id", tok.ID,
		"token_number", tok.TokenNumber,
		"patient_id", tok.PatientID,
		"priority_class", tok.PriorityClass,
		"position", tok.CurrentPosition,
	)
	s.afterCommit(ctx, EventTokenEnqueued, tok, "", snapshot, true, nil)
	return tok.Clone(), nil
}

// CallNext moves the highest scoring waiting token to called. Selection reads
// the waiting pool inside the transaction and rescoring happens at now, so a
// stale position never decides who is called.
func (s *Service) CallNext(ctx context.Context) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "call_next", "")
	defer func() { done(err) }()

	now := s.now()
	var snapshot []*Token
	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		waiting, err := tx.List(ctx, StatusWaiting)
		if err != nil {
			return fmt.Errorf("queue: list waiting: %w", err)
		}
		if len(waiting) == 0 {
			return ErrQueueEmpty
		}
		for _, t := range waiting {
			Rescore(t, now)
		}
		SortWaiting(waiting)

		next := waiting[0]
		calledAt := now
		next.Status = StatusCalled
		next.CalledAt = &calledAt
		next.CurrentPosition = 0
		next.EstimatedWaitTime = 0
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		snapshot, err = s.ranker.Recalculate(ctx, tx, now)
		if err != nil {
			return err
		}
		tok = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient called",
		"token_id", tok.ID,
		"token_number", tok.TokenNumber,
		"patient_id", tok.PatientID,
		"priority_score", tok.PriorityScore,
	)
	s.afterCommit(ctx, EventPatientCalled, tok, StatusWaiting, snapshot, true, nil)
	return tok.Clone(), nil
}

// MarkEmergency reclassifies a token as emergency. The adjustment is kept.
func (s *Service) MarkEmergency(ctx context.Context, tokenID string) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "mark_emergency", tokenID)
	defer func() { done(err) }()

	var previous PriorityClass
	tok, snapshot, err := s.adjust(ctx, tokenID, func(t *Token) {
		previous = t.PriorityClass
		t.PriorityClass = PriorityEmergency
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("token marked emergency",
		"token_id", tok.ID,
		"token_number", tok.TokenNumber,
		"previous_class", previous,
	)
	s.afterCommit(ctx, EventEmergencyUpdated, tok, tok.Status, snapshot, true, map[string]any{
		"previous_class": string(previous),
	})
	return tok.Clone(), nil
}

// Skip demotes a token by SkipPenalty. The token stays in its current status.
func (s *Service) Skip(ctx context.Context, tokenID string) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "skip", tokenID)
	defer func() { done(err) }()

	tok, snapshot, err := s.adjust(ctx, tokenID, func(t *Token) {
		t.Adjustment -= SkipPenalty
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("token skipped",
		"token_id", tok.ID,
		"token_number", tok.TokenNumber,
		"adjustment", tok.Adjustment,
		"priority_score", tok.PriorityScore,
	)
	s.afterCommit(ctx, EventTokenSkipped, tok, tok.Status, snapshot, true, map[string]any{
		"adjustment": tok.Adjustment,
	})
	return tok.Clone(), nil
}

func (s *Service) adjust(ctx context.Context, tokenID string, mutate func(t *Token)) (*Token, []*Token, error) {
	now := s.now()
	var (
		tok      *Token
		snapshot []*Token
	)
	err := s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.Get(ctx, tokenID)
		if err != nil {
			return err
		}
		mutate(t)
		Rescore(t, now)
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		snapshot, err = s.ranker.Recalculate(ctx, tx, now)
		if err != nil {
			return err
		}
		tok = findToken(snapshot, t.ID, t)
		return nil
	})
	return tok, snapshot, err
}

// MarkInProgress starts the consultation of a called token.
func (s *Service) MarkInProgress(ctx context.Context, tokenID string) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "mark_in_progress", tokenID)
	defer func() { done(err) }()

	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.Get(ctx, tokenID)
		if err != nil {
			return err
		}
		if t.Status != StatusCalled {
			return invalidTransition(t.Status, StatusInProgress)
		}
		t.Status = StatusInProgress
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("consultation started", "token_id", tok.ID, "token_number", tok.TokenNumber)
	s.afterCommit(ctx, EventConsultationStart, tok, StatusCalled, s.snapshot(ctx), false, nil)
	return tok.Clone(), nil
}

// Complete finishes a called or in-progress token. Completed is terminal, so a
// second call fails with ErrInvalidTransition.
func (s *Service) Complete(ctx context.Context, tokenID string) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "complete", tokenID)
	defer func() { done(err) }()

	now := s.now()
	var (
		from     Status
		snapshot []*Token
	)
	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.Get(ctx, tokenID)
		if err != nil {
			return err
		}
		if t.Status != StatusCalled && t.Status != StatusInProgress {
			return invalidTransition(t.Status, StatusCompleted)
		}
		from = t.Status
		servedAt := now
		t.Status = StatusCompleted
		t.ServedAt = &servedAt
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		snapshot, err = s.ranker.Recalculate(ctx, tx, now)
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("consultation completed", "token_id", tok.ID, "token_number", tok.TokenNumber)
	s.afterCommit(ctx, EventConsultationDone, tok, from, snapshot, true, nil)
	return tok.Clone(), nil
}

// UpdateNotes replaces the doctor's notes on a token.
func (s *Service) UpdateNotes(ctx context.Context, tokenID, notes string) (tok *Token, err error) {
	ctx, done := s.instrument(ctx, "update_notes", tokenID)
	defer func() { done(err) }()

	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.Get(ctx, tokenID)
		if err != nil {
			return err
		}
		t.Notes = notes
		if err := tx.Update(ctx, t); err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, EventNotesUpdated, tok, tok.Status, s.snapshot(ctx), false, nil)
	return tok.Clone(), nil
}

// Recalculate reranks the waiting pool on demand and returns it in order.
func (s *Service) Recalculate(ctx context.Context) (queue []*Token, err error) {
	ctx, done := s.instrument(ctx, "recalculate", "")
	defer func() { done(err) }()

	now := s.now()
	err = s.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		queue, err = s.ranker.Recalculate(ctx, tx, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SetWaiting(len(queue))
	s.publisher.Publish(ctx, Event{
		ID:           uuid.NewString(),
		Type:         EventQueueRecalculated,
		Queue:        cloneAll(queue),
		Recalculated: true,
		OccurredAt:   now,
	})
	return queue, nil
}

// WaitingQueue returns waiting tokens in call order with scores derived at read time.
func (s *Service) WaitingQueue(ctx context.Context) ([]*Token, error) {
	waiting, err := s.store.List(ctx, StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("queue: list waiting: %w", err)
	}
	s.ranker.Rank(waiting, s.now())
	return waiting, nil
}

// DoctorQueue returns called and in-progress tokens, oldest call first.
func (s *Service) DoctorQueue(ctx context.Context) ([]*Token, error) {
	tokens, err := s.store.List(ctx, StatusCalled, StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("queue: list doctor queue: %w", err)
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return calledBefore(tokens[i], tokens[j])
	})
	return tokens, nil
}

// ActiveToken returns the patient's non-completed token.
func (s *Service) ActiveToken(ctx context.Context, patientID string) (*Token, error) {
	t, err := s.store.ActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusWaiting {
		Rescore(t, s.now())
	}
	return t, nil
}

// Token returns a token by id.
func (s *Service) Token(ctx context.Context, tokenID string) (*Token, error) {
	return s.store.Get(ctx, tokenID)
}

// ConsultationMinutes exposes the ranker's per-position estimate.
func (s *Service) ConsultationMinutes() int {
	return s.ranker.ConsultationMinutes()
}

func (s *Service) snapshot(ctx context.Context) []*Token {
	queue, err := s.WaitingQueue(ctx)
	if err != nil {
		s.logger.Warn("queue snapshot unavailable", "error", err)
		return nil
	}
	return queue
}

// afterCommit runs the side effects of a committed command. None of them can
// fail the command.
func (s *Service) afterCommit(ctx context.Context, typ EventType, tok *Token, from Status, snapshot []*Token, recalculated bool, details map[string]any) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	if recalculated {
		s.metrics.SetWaiting(len(snapshot))
	}
	if s.audit != nil {
		tr := Transition{
			TokenID:     tok.ID,
			TokenNumber: tok.TokenNumber,
			PatientID:   tok.PatientID,
			Event:       typ,
			From:        from,
			To:          tok.Status,
			Details:     details,
			At:          now,
		}
		if err := s.audit.RecordTransition(ctx, tr); err != nil {
			s.logger.Warn("audit record failed", "error", err, "token_id", tok.ID, "event", typ)
		}
	}
	s.publisher.Publish(ctx, Event{
		ID:           uuid.NewString(),
		Type:         typ,
		Token:        tok.Clone(),
		Queue:        cloneAll(snapshot),
		Recalculated: recalculated,
		OccurredAt:   now,
	})
}

func (s *Service) instrument(ctx context.Context, command, tokenID string) (context.Context, func(error)) {
	ctx, span := queueTracer.Start(ctx, "queue."+command, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("clinicqueue.command", command))
	if tokenID != "" {
		span.SetAttributes(attribute.String("clinicqueue.token_id", tokenID))
	}
	start := time.Now()
	return ctx, func(err error) {
		result := ResultLabel(err)
		span.SetAttributes(attribute.String("clinicqueue.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveCommand(command, result, time.Since(start).Seconds())
	}
}

// ResultLabel maps a command error onto a low-cardinality label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateActiveToken):
		return "duplicate"
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrQueueEmpty):
		return "queue_empty"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAllocation):
		return "allocation_error"
	case errors.Is(err, ErrInvalidPriorityClass), errors.Is(err, ErrMissingPatient):
		return "invalid"
	default:
		return "error"
	}
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func findToken(tokens []*Token, id string, fallback *Token) *Token {
	for _, t := range tokens {
		if t.ID == id {
			return t
		}
	}
	return fallback
}

func cloneAll(tokens []*Token) []*Token {
	out := make([]*Token, len(tokens))
	for i, t := range tokens {
		out[i] = t.Clone()
	}
	return out
}

func calledBefore(a, b *Token) bool {
	switch {
	case a.CalledAt == nil && b.CalledAt == nil:
		return a.ArrivalTime.Before(b.ArrivalTime)
	case a.CalledAt == nil:
		return false
	case b.CalledAt == nil:
		return true
	default:
		return a.CalledAt.Before(*b.CalledAt)
	}
}
