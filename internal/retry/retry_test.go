package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duraqueue/duraqueue/internal/domain"
)

func TestNextDelay_ExponentialSequence(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tc := range cases {
		got := NextDelay(tc.attempt, cfg)
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}

func TestNextDelay_CappedAtMaxDelay(t *testing.T) {
	cfg := Config{MaxDelay: 10 * time.Second}
	assert.Equal(t, 8*time.Second, NextDelay(3, cfg))
	assert.Equal(t, 10*time.Second, NextDelay(4, cfg))
	assert.Equal(t, 10*time.Second, NextDelay(20, cfg))
}

func TestNextDelay_ClampsNonPositiveAttempt(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, NextDelay(1, cfg), NextDelay(0, cfg))
	assert.Equal(t, NextDelay(1, cfg), NextDelay(-5, cfg))
}

func TestJitter_BoundedByInput(t *testing.T) {
	d := 5 * time.Second
	for i := 0; i < 50; i++ {
		got := Jitter(d)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, d)
	}
}

func TestJitter_ZeroForNonPositive(t *testing.T) {
	assert.Equal(t, time.Duration(0), Jitter(0))
	assert.Equal(t, time.Duration(0), Jitter(-time.Second))
}

func TestReasonForFailure(t *testing.T) {
	cases := []struct {
		name string
		in   Outcome
		want domain.DeadLetterReason
	}{
		{"fatal wins even before exhaustion", Outcome{Fatal: true}, domain.ReasonFatalError},
		{"fatal wins over exhaustion", Outcome{Fatal: true, AttemptsExhausted: true}, domain.ReasonFatalError},
		{"lock expiry maps to timeout", Outcome{LockExpired: true}, domain.ReasonTimeout},
		{"invalid payload", Outcome{InvalidPayload: true}, domain.ReasonInvalidData},
		{"plain exhaustion is the default", Outcome{AttemptsExhausted: true}, domain.ReasonMaxAttemptsExceeded},
		{"unknown falls back to system_error", Outcome{}, domain.ReasonSystemError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReasonForFailure(tc.in))
		})
	}
}
