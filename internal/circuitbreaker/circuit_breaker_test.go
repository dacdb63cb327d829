package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func newTestBreaker(maxFailures int, timeout time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(Config{Name: "snapshots", MaxFailures: maxFailures, Timeout: timeout}, logging.NewNopLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail() error { return errBackend }
func ok() error   { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.True(t, IsOpen(err))
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.GetStats().Rejected)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	_ = cb.Execute(fail)
	require.NoError(t, cb.Execute(ok))
	_ = cb.Execute(fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.GetStats().ConsecutiveFails)
}

func TestHalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"trial succeeds", ok, StateClosed},
		{"trial fails", fail, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, now := newTestBreaker(1, time.Minute)
			_ = cb.Execute(fail)
			require.Equal(t, StateOpen, cb.State())

			*now = now.Add(time.Minute)
			_ = cb.Execute(tt.trial)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestResetCloses(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(ok))

	stats := cb.GetStats()
	assert.Equal(t, "snapshots", stats.Name)
	assert.Equal(t, int64(2), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.TotalFailures)
}
