package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_Valid(t *testing.T) {
	tests := []struct {
		name string
		p    Priority
		want bool
	}{
		{"low is valid", PriorityLow, true},
		{"normal is valid", PriorityNormal, true},
		{"high is valid", PriorityHigh, true},
		{"critical is valid", PriorityCritical, true},
		{"zero is invalid", Priority(0), false},
		{"negative is invalid", Priority(-5), false},
		{"between classes is invalid", Priority(7), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Valid())
		})
	}
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "LOW", PriorityLow.String())
	assert.Equal(t, "NORMAL", PriorityNormal.String())
	assert.Equal(t, "HIGH", PriorityHigh.String())
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Contains(t, Priority(99).String(), "UNKNOWN")
}

func TestNewPriority(t *testing.T) {
	p, err := NewPriority(15)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = NewPriority(11)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestPriorities_DescendingOrder(t *testing.T) {
	require.Len(t, Priorities, 4)
	for i := 1; i < len(Priorities); i++ {
		assert.Greater(t, Priorities[i-1], Priorities[i])
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending is not terminal", StatusPending, false},
		{"processing is not terminal", StatusProcessing, false},
		{"completed is terminal", StatusCompleted, true},
		{"failed is terminal", StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}
