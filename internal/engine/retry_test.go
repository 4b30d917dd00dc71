package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/spendsync/internal/ir"
)

var retryNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeNextRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		wantStatus ir.Status
		wantAt     *time.Time
	}{
		{"first failure", 1, 3, ir.StatusRetrying, ptrTime(retryNow.Add(30 * time.Second))},
		{"one below limit", 2, 3, ir.StatusRetrying, ptrTime(retryNow.Add(30 * time.Second))},
		{"at limit", 3, 3, ir.StatusFailed, nil},
		{"past limit", 4, 3, ir.StatusFailed, nil},
		{"zero retries allowed", 1, 0, ir.StatusFailed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeNextRetry(tt.retryCount, tt.maxRetries, 30*time.Second, retryNow)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantAt, got.NextRetryAt)
		})
	}
}

func TestFixedDelay_MatchesComputeNextRetry(t *testing.T) {
	p := FixedDelay{Delay: time.Minute}
	for count := 1; count <= 4; count++ {
		assert.Equal(t,
			ComputeNextRetry(count, 3, time.Minute, retryNow),
			p.Next(count, 3, retryNow),
		)
	}
}

func TestExponentialBackoff_Grows(t *testing.T) {
	p := ExponentialBackoff{
		Initial:    time.Second,
		Max:        5 * time.Second,
		Multiplier: 2,
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, d := range want {
		got := p.Next(i+1, 10, retryNow)
		require.Equal(t, ir.StatusRetrying, got.Status)
		require.NotNil(t, got.NextRetryAt)
		assert.Equal(t, retryNow.Add(d), *got.NextRetryAt, "retry %d", i+1)
	}
}

func TestExponentialBackoff_Terminal(t *testing.T) {
	p := NewExponentialBackoff(time.Second, time.Minute)
	got := p.Next(5, 5, retryNow)
	assert.Equal(t, ir.StatusFailed, got.Status)
	assert.Nil(t, got.NextRetryAt)
}

func TestExponentialBackoff_JitterStaysInBounds(t *testing.T) {
	p := NewExponentialBackoff(10*time.Second, time.Hour)
	for i := 0; i < 50; i++ {
		got := p.Next(1, 5, retryNow)
		require.NotNil(t, got.NextRetryAt)
		d := got.NextRetryAt.Sub(retryNow)
		assert.GreaterOrEqual(t, d, 9*time.Second)
		assert.LessOrEqual(t, d, 11*time.Second)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
