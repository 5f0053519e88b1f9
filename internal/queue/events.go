package queue

import (
	"context"
	"time"
)

// EventType names what changed in the queue.
type EventType string

const (
	EventTokenEnqueued     EventType = "token-enqueued"
	EventPatientCalled     EventType = "patient-called"
	EventEmergencyUpdated  EventType = "emergency-updated"
	EventTokenSkipped      EventType = "token-skipped"
	EventConsultationStart EventType = "consultation-started"
	EventConsultationDone  EventType = "consultation-completed"
	EventNotesUpdated      EventType = "notes-updated"
	EventQueueRecalculated EventType = "queue-recalculated"
)

// Event is emitted after a command commits. Queue is the waiting snapshot in
// order; Recalculated is false when the command left positions untouched.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Token        *Token    `json:"token,omitempty"`
	Queue        []*Token  `json:"queue"`
	Recalculated bool      `json:"recalculated"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events to observers. Delivery is best effort and must not block commands.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Transition is one committed status or priority change, kept for history.
type Transition struct {
	TokenID     string         `json:"token_id"`
	TokenNumber string         `json:"token_number"`
	PatientID   string         `json:"patient_id"`
	Event       EventType      `json:"event_type"`
	From        Status         `json:"from_status,omitempty"`
	To          Status         `json:"to_status"`
	Details     map[string]any `json:"details,omitempty"`
	At          time.Time      `json:"created_at"`
}

// AuditRecorder persists transitions.
type AuditRecorder interface {
	RecordTransition(ctx context.Context, tr Transition) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}
