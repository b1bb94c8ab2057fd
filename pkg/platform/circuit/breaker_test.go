package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreakerIsClosed(t *testing.T) {
	b := New("notify-sender")
	assert.Equal(t, "notify-sender", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

// step is one recorded outcome and the state expected afterwards.
type step struct {
	fail     bool
	wantOpen bool
	opened   bool
	closed   bool
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
				{fail: true, wantOpen: true},
			},
		},
		{
			name: "success resets the failure run",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{},
				{fail: true},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
			},
		},
		{
			name: "closes after consecutive successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{closed: true},
			},
		},
		{
			name: "failure while open restarts the success run",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(3)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{wantOpen: true},
				{fail: true, wantOpen: true},
				{wantOpen: true},
				{wantOpen: true},
				{closed: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("ratelimit-redis", tt.opts...)
			for i, s := range tt.steps {
				if s.fail {
					degraded, change := b.RecordFailure()
					assert.Equal(t, s.wantOpen, degraded, "step %d", i)
					assert.Equal(t, s.opened, change.Opened, "step %d", i)
				} else {
					primary, change := b.RecordSuccess()
					assert.Equal(t, !s.wantOpen, primary, "step %d", i)
					assert.Equal(t, s.closed, change.Closed, "step %d", i)
				}
				require.Equal(t, s.wantOpen, b.IsOpen(), "step %d", i)
			}
		})
	}
}

func TestCooldownAdmitsProbe(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New("notify-sender", WithFailureThreshold(1), WithCooldown(30*time.Second), WithClock(func() time.Time { return now }))

	b.RecordFailure()
	assert.False(t, b.Allow(), "open breaker blocks during cooldown")

	now = now.Add(31 * time.Second)
	assert.True(t, b.Allow(), "probe allowed after cooldown")

	b.RecordFailure()
	assert.False(t, b.Allow(), "failed probe restarts cooldown")
}
