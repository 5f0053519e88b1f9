package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseScore(t *testing.T) {
	assert.Equal(t, 100.0, BaseScore(PriorityEmergency))
	assert.Equal(t, 50.0, BaseScore(PrioritySenior))
	assert.Equal(t, 10.0, BaseScore(PriorityNormal))
	assert.Equal(t, 10.0, BaseScore(PriorityClass("vip")))
}

func TestScore_WaitBonusAndAdjustment(t *testing.T) {
	arrival := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	assert.InDelta(t, 10.0, Score(PriorityNormal, arrival, arrival, 0), 1e-9)
	assert.InDelta(t, 13.0, Score(PriorityNormal, arrival, arrival.Add(30*time.Minute), 0), 1e-9)
	assert.InDelta(t, 50.05, Score(PrioritySenior, arrival, arrival.Add(30*time.Second), 0), 1e-9)
	assert.InDelta(t, -7.0, Score(PriorityNormal, arrival, arrival.Add(30*time.Minute), -SkipPenalty), 1e-9)
}

func TestScore_GapBetweenTokensIsStable(t *testing.T) {
	a := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	b := a.Add(5 * time.Minute)
	for _, now := range []time.Time{b, b.Add(time.Hour), b.Add(6 * time.Hour)} {
		gap := Score(PriorityNormal, a, now, 0) - Score(PrioritySenior, b, now, 0)
		assert.InDelta(t, -39.5, gap, 1e-9)
	}
}

func TestParsePriorityClass(t *testing.T) {
	cases := map[string]PriorityClass{
		"":          PriorityNormal,
		"normal":    PriorityNormal,
		" Senior ":  PrioritySenior,
		"EMERGENCY": PriorityEmergency,
	}
	for raw, want := range cases {
		got, err := ParsePriorityClass(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParsePriorityClass("vip")
	assert.ErrorIs(t, err, ErrInvalidPriorityClass)
}

func TestEnqueueRequest_Validate(t *testing.T) {
	_, err := (&EnqueueRequest{PriorityClass: "senior"}).Validate()
	assert.ErrorIs(t, err, ErrMissingPatient)

	class, err := (&EnqueueRequest{PatientID: "p1"}).Validate()
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, class)
}
