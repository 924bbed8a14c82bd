package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRespectsPerMinuteCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(ctx, Config{
		RequestsPerMinute: 3,
		RequestsPerSecond: 100, // effectively unconstrained for this test
		SlowdownFactor:    0.5,
		RecoveryInterval:  time.Hour,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}

	// A 4th acquisition must block until the minute window advances; verify
	// it does not complete immediately.
	done := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("4th acquire should have blocked on the per-minute ceiling")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAcquireCancellation(t *testing.T) {
	l := New(context.Background(), Config{
		RequestsPerMinute: 1,
		RequestsPerSecond: 1,
	})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReportRateLimitedHalvesCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(ctx, Config{
		RequestsPerMinute: 1000,
		RequestsPerSecond: 10,
		SlowdownFactor:    0.5,
		RecoveryInterval:  time.Hour,
	})

	l.ReportRateLimited()

	l.mu.Lock()
	got := l.ceilingPerSecond
	l.mu.Unlock()

	require.Equal(t, 5, got)
}

func TestReportRateLimitedFloorsAtOne(t *testing.T) {
	l := New(context.Background(), Config{
		RequestsPerMinute: 1000,
		RequestsPerSecond: 1,
		SlowdownFactor:    0.5,
		RecoveryInterval:  time.Hour,
	})

	l.ReportRateLimited()

	l.mu.Lock()
	got := l.ceilingPerSecond
	l.mu.Unlock()

	require.Equal(t, 1, got)
}
