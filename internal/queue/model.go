package queue

import (
	"strings"
	"time"
)

// PriorityClass is the coarse urgency category of a token.
type PriorityClass string

const (
	PriorityNormal    PriorityClass = "normal"
	PrioritySenior    PriorityClass = "senior"
	PriorityEmergency PriorityClass = "emergency"
)

// ParsePriorityClass normalizes raw input; an empty value means normal.
func ParsePriorityClass(raw string) (PriorityClass, error) {
	switch PriorityClass(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PrioritySenior:
		return PrioritySenior, nil
	case PriorityEmergency:
		return PriorityEmergency, nil
	default:
		return "", ErrInvalidPriorityClass
	}
}

// Status is a token's lifecycle state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCalled     Status = "called"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Active reports whether the status still holds the patient's place.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusInProgress
}

// Token is one patient's place in the visit queue.
type Token struct {
	ID                string        `json:"id"`
	TokenNumber       string        `json:"token_number"`
	PatientID         string        `json:"patient_id"`
	AppointmentID     string        `json:"appointment_id,omitempty"`
	PriorityClass     PriorityClass `json:"priority_class"`
	PriorityScore     float64       `json:"priority_score"`
	Adjustment        float64       `json:"adjustment"`
	ArrivalTime       time.Time     `json:"arrival_time"`
	Status            Status        `json:"status"`
	CurrentPosition   int           `json:"current_position"`
	EstimatedWaitTime int           `json:"estimated_wait_minutes"`
	CalledAt          *time.Time    `json:"called_at,omitempty"`
	ServedAt          *time.Time    `json:"served_at,omitempty"`
	Notes             string        `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers never share a store-owned record.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.CalledAt != nil {
		at := *t.CalledAt
		c.CalledAt = &at
	}
	if t.ServedAt != nil {
		at := *t.ServedAt
		c.ServedAt = &at
	}
	return &c
}

// Placement is the derived ranking written back for a waiting token.
type Placement struct {
	TokenID           string
	PriorityScore     float64
	Position          int
	EstimatedWaitTime int
}

// EnqueueRequest is the input of a new booking.
type EnqueueRequest struct {
	PatientID     string `json:"patient_id"`
	PriorityClass string `json:"priority_class"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// Validate checks the request and returns the parsed class.
func (r *EnqueueRequest) Validate() (PriorityClass, error) {
	if strings.TrimSpace(r.PatientID) == "" {
		return "", ErrMissingPatient
	}
	return ParsePriorityClass(r.PriorityClass)
}
