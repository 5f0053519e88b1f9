package queue

import (
	"errors"

	"github.com/wolfman30/clinic-queue/internal/sequence"
)

var (
	// ErrDuplicateActiveToken is returned when the patient already holds a non-completed token
	ErrDuplicateActiveToken = errors.New("patient already has an active token")

	// ErrTokenNotFound is returned when a token id does not resolve
	ErrTokenNotFound = errors.New("token not found")

	// ErrQueueEmpty is returned by CallNext when nobody is waiting
	ErrQueueEmpty = errors.New("no patients in queue")

	// ErrInvalidTransition is returned when the token's current status forbids the command
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAllocation is returned when no token number could be issued; callers may retry
	ErrAllocation = sequence.ErrAllocation

	// ErrInvalidPriorityClass is returned for classes other than normal, senior and emergency
	ErrInvalidPriorityClass = errors.New("invalid priority class")

	// ErrMissingPatient is returned when an enqueue request has no patient id
	ErrMissingPatient = errors.New("patient_id is required")
)
