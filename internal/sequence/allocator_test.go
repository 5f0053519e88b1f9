package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTokenNumber(t *testing.T) {
	assert.Equal(t, "T-20250314-001", FormatTokenNumber("20250314", 1))
	assert.Equal(t, "T-20250314-042", FormatTokenNumber("20250314", 42))
	assert.Equal(t, "T-20250314-1234", FormatTokenNumber("20250314", 1234))
}

func TestAllocator_UsesClinicCalendarDay(t *testing.T) {
	loc := time.FixedZone("clinic", 5*60*60+30*60)
	alloc := NewAllocator(NewMemoryCounter(), loc)

	// 20:00 UTC on the 14th is already the 15th at +05:30.
	now := time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)
	number, err := alloc.NextTokenNumber(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "T-20250315-001", number)
}

func TestAllocator_RestartsEachDay(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(), time.UTC)
	ctx := context.Background()
	day1 := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	first, err := alloc.NextTokenNumber(ctx, day1)
	require.NoError(t, err)
	second, err := alloc.NextTokenNumber(ctx, day1.Add(time.Hour))
	require.NoError(t, err)
	nextDay, err := alloc.NextTokenNumber(ctx, day1.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "T-20250314-001", first)
	assert.Equal(t, "T-20250314-002", second)
	assert.Equal(t, "T-20250315-001", nextDay)
}

func TestAllocator_ConcurrentCallsAreDistinct(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(), time.UTC)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	const callers = 200
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := alloc.NextTokenNumber(context.Background(), now)
			if err == nil {
				results <- number
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{}, callers)
	for number := range results {
		_, dup := seen[number]
		require.False(t, dup, "duplicate token number %s", number)
		seen[number] = struct{}{}
	}
	assert.Len(t, seen, callers)
}

type failingCounter struct{ err error }

func (f failingCounter) Increment(context.Context, string) (int64, error) { return 0, f.err }

func TestAllocator_WrapsBackendFailures(t *testing.T) {
	alloc := NewAllocator(failingCounter{err: errors.New("connection refused")}, nil)
	_, err := alloc.NextTokenNumber(context.Background(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAllocator_CancelledContext(t *testing.T) {
	alloc := NewAllocator(NewMemoryCounter(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := alloc.NextTokenNumber(ctx, time.Now())
	assert.ErrorIs(t, err, ErrAllocation)
}
