package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

type countingCycler struct {
	calls   atomic.Int32
	running atomic.Bool
	overlap atomic.Bool
	delay   time.Duration
}

func (c *countingCycler) RunCycle(ctx context.Context) telemetry.CycleReport {
	if !c.running.CompareAndSwap(false, true) {
		c.overlap.Store(true)
	}
	defer c.running.Store(false)
	c.calls.Add(1)
	time.Sleep(c.delay)
	return telemetry.CycleReport{Outcome: telemetry.OutcomePersisted}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCyclesUntilCancelled(t *testing.T) {
	c := &countingCycler{delay: 5 * time.Millisecond}
	s := New(20*time.Millisecond, c, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return c.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	require.NoError(t, runErr)
	assert.False(t, c.running.Load(), "Run returned while a cycle was in flight")
	assert.False(t, c.overlap.Load(), "cycles overlapped")

	after := c.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, c.calls.Load(), "cycles ran after Run returned")
}

func TestRunWaitsForInFlightCycle(t *testing.T) {
	c := &countingCycler{delay: 150 * time.Millisecond}
	s := New(time.Hour, c, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.running.Load() }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.False(t, c.running.Load())
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	s := New(0, &countingCycler{}, quietLogger())

	assert.Error(t, s.Run(context.Background()))
}
