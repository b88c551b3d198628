package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobRecord_Locked(t *testing.T) {
	now := time.Now()
	worker := "worker-1"

	tests := []struct {
		name string
		job  JobRecord
		want bool
	}{
		{
			name: "no lock",
			job:  JobRecord{},
			want: false,
		},
		{
			name: "active lock",
			job: JobRecord{
				LockedBy:    &worker,
				LockedUntil: ptrTime(now.Add(time.Minute)),
			},
			want: true,
		},
		{
			name: "expired lock",
			job: JobRecord{
				LockedBy:    &worker,
				LockedUntil: ptrTime(now.Add(-time.Minute)),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Locked(now))
		})
	}
}

func TestJobRecord_Due(t *testing.T) {
	now := time.Now()

	due := JobRecord{Status: StatusPending, ScheduledFor: now.Add(-time.Second)}
	assert.True(t, due.Due(now))

	notYet := JobRecord{Status: StatusPending, ScheduledFor: now.Add(time.Hour)}
	assert.False(t, notYet.Due(now))

	wrongStatus := JobRecord{Status: StatusProcessing, ScheduledFor: now.Add(-time.Second)}
	assert.False(t, wrongStatus.Due(now))
}

func TestJobRecord_AttemptsExhausted(t *testing.T) {
	j := JobRecord{Attempts: 3, MaxAttempts: 3}
	assert.True(t, j.AttemptsExhausted())

	j.Attempts = 2
	assert.False(t, j.AttemptsExhausted())
}

func ptrTime(t time.Time) *time.Time { return &t }
