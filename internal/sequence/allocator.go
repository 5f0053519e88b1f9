// Package sequence issues the per-day token numbers shown to patients.
//
// A Counter performs the single atomic increment-and-read for a calendar day;
// Allocator turns the returned value into the T-YYYYMMDD-NNN form.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAllocation is returned when the counter backend cannot be reached. It is
// the only error callers may retry.
var ErrAllocation = errors.New("token number allocation failed")

// Counter increments the sequence for dateKey and returns the new value. The
// first increment of a day returns 1. Implementations must be linearizable per key.
type Counter interface {
	Increment(ctx context.Context, dateKey string) (int64, error)
}

// Allocator formats counter values as token numbers.
type Allocator struct {
	counter  Counter
	location *time.Location
}

// NewAllocator builds an allocator using loc as the clinic calendar. A nil loc means UTC.
func NewAllocator(counter Counter, loc *time.Location) *Allocator {
	if counter == nil {
		panic("sequence: counter required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{counter: counter, location: loc}
}

// DateKey returns the YYYYMMDD key of now in the clinic calendar.
func (a *Allocator) DateKey(now time.Time) string {
	return now.In(a.location).Format("20060102")
}

// NextTokenNumber allocates the next number for the clinic day containing now.
func (a *Allocator) NextTokenNumber(ctx context.Context, now time.Time) (string, error) {
	dateKey := a.DateKey(now)
	seq, err := a.counter.Increment(ctx, dateKey)
	if err != nil {
		if errors.Is(err, ErrAllocation) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	return FormatTokenNumber(dateKey, seq), nil
}

// FormatTokenNumber renders T-<dateKey>-<seq>, padding seq to three digits.
func FormatTokenNumber(dateKey string, seq int64) string {
	return fmt.Sprintf("T-%s-%03d", dateKey, seq)
}
