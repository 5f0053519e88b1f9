package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const activePatientIndex = "tokens_active_patient_idx"

// queueLockKey names the transaction-scoped advisory lock every Tx takes
// before touching a row, so all commands acquire row locks one at a time.
const queueLockKey int64 = 0x636c696e6963

const lockQueueSQL = `SELECT pg_advisory_xact_lock($1)`

// Querier is the statement surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps tokens in the tokens table. Each Tx first takes the
// queue advisory lock, then rows read inside it are locked FOR UPDATE so
// status preconditions are checked against the row being written.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("queue: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const tokenColumns = `
	id, token_number, patient_id, COALESCE(appointment_id, ''), priority_class,
	priority_score, adjustment, arrival_time, status, current_position,
	estimated_wait_minutes, called_at, served_at, COALESCE(notes, '')`

const insertTokenSQL = `
	INSERT INTO tokens (
		id, token_number, patient_id, appointment_id, priority_class,
		priority_score, adjustment, arrival_time, status, current_position,
		estimated_wait_minutes, called_at, served_at, notes
	) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''))
`

const updateTokenSQL = `
	UPDATE tokens
	SET priority_class = $2,
		priority_score = $3,
		adjustment = $4,
		status = $5,
		current_position = $6,
		estimated_wait_minutes = $7,
		called_at = $8,
		served_at = $9,
		notes = NULLIF($10, ''),
		updated_at = now()
	WHERE id = $1
`

const setPlacementsSQL = `
	UPDATE tokens AS t
	SET priority_score = p.score,
		current_position = p.position,
		estimated_wait_minutes = p.wait,
		updated_at = now()
	FROM unnest($1::text[], $2::float8[], $3::int4[], $4::int4[]) AS p(id, score, position, wait)
	WHERE t.id = p.id AND t.status = 'waiting'
`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Token, error) {
	return getToken(ctx, s.pool, id, false)
}

func (s *PostgresStore) ActiveForPatient(ctx context.Context, patientID string) (*Token, error) {
	return activeForPatient(ctx, s.pool, patientID)
}

func (s *PostgresStore) List(ctx context.Context, statuses ...Status) ([]*Token, error) {
	return listTokens(ctx, s.pool, statuses, false)
}

// Tx runs fn in a database transaction.
func (s *PostgresStore) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, lockQueueSQL, queueLockKey); err != nil {
		return fmt.Errorf("queue: lock queue: %w", err)
	}

	if err := fn(ctx, &postgresTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("queue: commit tx: %w", err)
	}
	committed = true
	return nil
}

type postgresTx struct {
	q Querier
}

func (tx *postgresTx) Get(ctx context.Context, id string) (*Token, error) {
	return getToken(ctx, tx.q, id, true)
}

func (tx *postgresTx) ActiveForPatient(ctx context.Context, patientID string) (*Token, error) {
	return activeForPatient(ctx, tx.q, patientID)
}

func (tx *postgresTx) List(ctx context.Context, statuses ...Status) ([]*Token, error) {
	return listTokens(ctx, tx.q, statuses, true)
}

func (tx *postgresTx) Insert(ctx context.Context, t *Token) error {
	_, err := tx.q.Exec(ctx, insertTokenSQL,
		t.ID,
		t.TokenNumber,
		t.PatientID,
		t.AppointmentID,
		string(t.PriorityClass),
		t.PriorityScore,
		t.Adjustment,
		t.ArrivalTime,
		string(t.Status),
		t.CurrentPosition,
		t.EstimatedWaitTime,
		t.CalledAt,
		t.ServedAt,
		t.Notes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activePatientIndex {
			return ErrDuplicateActiveToken
		}
		return fmt.Errorf("queue: insert token: %w", err)
	}
	return nil
}

func (tx *postgresTx) Update(ctx context.Context, t *Token) error {
	ct, err := tx.q.Exec(ctx, updateTokenSQL,
		t.ID,
		string(t.PriorityClass),
		t.PriorityScore,
		t.Adjustment,
		string(t.Status),
		t.CurrentPosition,
		t.EstimatedWaitTime,
		t.CalledAt,
		t.ServedAt,
		t.Notes,
	)
	if err != nil {
		return fmt.Errorf("queue: update token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// SetPlacements rewrites every placement with one UPDATE ... FROM unnest.
func (tx *postgresTx) SetPlacements(ctx context.Context, placements []Placement) error {
	if len(placements) == 0 {
		return nil
	}
	ids := make([]string, len(placements))
	scores := make([]float64, len(placements))
	positions := make([]int32, len(placements))
	waits := make([]int32, len(placements))
	for i, p := range placements {
		ids[i] = p.TokenID
		scores[i] = p.PriorityScore
		positions[i] = int32(p.Position)
		waits[i] = int32(p.EstimatedWaitTime)
	}
	if _, err := tx.q.Exec(ctx, setPlacementsSQL, ids, scores, positions, waits); err != nil {
		return fmt.Errorf("queue: set placements: %w", err)
	}
	return nil
}

func getToken(ctx context.Context, q Querier, id string, lock bool) (*Token, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanToken(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("queue: select token: %w", err)
	}
	return t, nil
}

func activeForPatient(ctx context.Context, q Querier, patientID string) (*Token, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens WHERE patient_id = $1 AND status <> 'completed' LIMIT 1`
	t, err := scanToken(q.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("queue: select active token: %w", err)
	}
	return t, nil
}

func listTokens(ctx context.Context, q Querier, statuses []Status, lock bool) ([]*Token, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY arrival_time, token_number`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func scanToken(row pgx.Row) (*Token, error) {
	var (
		t                Token
		class, status    string
		position, wait   int32
		calledAt, served pgtype.Timestamptz
		arrival          time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.TokenNumber,
		&t.PatientID,
		&t.AppointmentID,
		&class,
		&t.PriorityScore,
		&t.Adjustment,
		&arrival,
		&status,
		&position,
		&wait,
		&calledAt,
		&served,
		&t.Notes,
	); err != nil {
		return nil, err
	}
	t.PriorityClass = PriorityClass(class)
	t.Status = Status(status)
	t.ArrivalTime = arrival
	t.CurrentPosition = int(position)
	t.EstimatedWaitTime = int(wait)
	t.CalledAt = timestampPtr(calledAt)
	t.ServedAt = timestampPtr(served)
	return &t, nil
}

func timestampPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	at := ts.Time
	return &at
}
