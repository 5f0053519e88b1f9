// Package audit keeps the append-only history of token transitions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/clinic-queue/internal/queue"
)

// TransitionLog writes queue transitions to token_events.
type TransitionLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewTransitionLog creates a transition log.
func NewTransitionLog(db *sql.DB) *TransitionLog {
	return &TransitionLog{db: db, now: time.Now}
}

// RecordTransition implements queue.AuditRecorder.
func (l *TransitionLog) RecordTransition(ctx context.Context, tr queue.Transition) error {
	if tr.At.IsZero() {
		tr.At = l.now()
	}
	var details any
	if len(tr.Details) > 0 {
		raw, err := json.Marshal(tr.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		details = raw
	}

	query := `
		INSERT INTO token_events (
			id, token_id, token_number, patient_id, event_type,
			from_status, to_status, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := l.db.ExecContext(ctx, query,
		uuid.NewString(),
		tr.TokenID,
		tr.TokenNumber,
		tr.PatientID,
		string(tr.Event),
		nullString(string(tr.From)),
		string(tr.To),
		details,
		tr.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record transition: %w", err)
	}
	return nil
}

// ListForToken returns a token's transitions oldest first, optionally
// restricted to the given event types.
func (l *TransitionLog) ListForToken(ctx context.Context, tokenID string, types ...queue.EventType) ([]queue.Transition, error) {
	query := `
		SELECT token_id, token_number, patient_id, event_type,
			   from_status, to_status, details, created_at
		FROM token_events
		WHERE token_id = $1
	`
	args := []interface{}{tokenID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += " AND event_type = ANY($2)"
		args = append(args, pq.Array(names))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []queue.Transition
	for rows.Next() {
		var (
			tr         queue.Transition
			event, to  string
			from       sql.NullString
			rawDetails []byte
		)
		if err := rows.Scan(
			&tr.TokenID, &tr.TokenNumber, &tr.PatientID, &event,
			&from, &to, &rawDetails, &tr.At,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan transition: %w", err)
		}
		tr.Event = queue.EventType(event)
		tr.From = queue.Status(from.String)
		tr.To = queue.Status(to)
		if len(rawDetails) > 0 {
			if err := json.Unmarshal(rawDetails, &tr.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
