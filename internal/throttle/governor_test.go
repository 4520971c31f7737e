package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGovernor_ConcurrencyCeiling(t *testing.T) {
	const k = 3
	g := New(k, 0)
	ctx := context.Background()

	var running, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10*k; i++ {
		release, err := g.Admit(ctx)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()

			n := running.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(k))
	assert.LessOrEqual(t, g.Peak(), k)
	assert.Equal(t, 10*k, g.Admitted())
	assert.Equal(t, 0, g.InFlight())
}

func TestGovernor_RateCeiling(t *testing.T) {
	const qps = 20
	g := New(50, qps)
	ctx := context.Background()

	var scheduled []time.Time
	g.onAdmit = func(at time.Time) { scheduled = append(scheduled, at) }

	start := time.Now()
	for i := 0; i < 2*qps+5; i++ {
		release, err := g.Admit(ctx)
		require.NoError(t, err)
		release()
	}
	elapsed := time.Since(start)
	require.Len(t, scheduled, 2*qps+5)

	// Any qps+1 consecutive admissions must span at least one second,
	// otherwise some one-second window saw more than qps starts. The
	// microsecond covers float rounding in the limiter and is far below
	// one 50ms interval.
	for i := 0; i+qps < len(scheduled); i++ {
		span := scheduled[i+qps].Sub(scheduled[i])
		assert.GreaterOrEqual(t, span, time.Second-time.Microsecond, "window starting at admission %d", i)
	}

	// No admission returns before it was due.
	assert.GreaterOrEqual(t, elapsed, scheduled[len(scheduled)-1].Sub(scheduled[0]))
}

func TestGovernor_DeadlineDoesNotRejectEarly(t *testing.T) {
	g := New(1, 4) // one start every 250ms

	ctx, cancel := context.WithTimeout(context.Background(), 625*time.Millisecond)
	defer cancel()

	// Starts at 0, 250ms and 500ms all fall before the deadline.
	for i := 0; i < 3; i++ {
		release, err := g.Admit(ctx)
		require.NoError(t, err, "admission %d", i)
		release()
	}

	// The next start is due at 750ms: Admit waits for the deadline to pass
	// instead of giving up while ctx is still live.
	_, err := g.Admit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 3, g.Admitted())
	assert.Equal(t, 0, g.InFlight())
}

func TestGovernor_CancelledWaitReturnsToken(t *testing.T) {
	g := New(1, 4)

	release, err := g.Admit(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Admit(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned reservation is given back, so the next start is due
	// 250ms after the first, not 500ms.
	start := time.Now()
	release, err = g.Admit(context.Background())
	require.NoError(t, err)
	release()
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGovernor_UnlimitedRate(t *testing.T) {
	g := New(1, 0)
	assert.Equal(t, rate.Inf, g.Limit())

	start := time.Now()
	for i := 0; i < 1000; i++ {
		release, err := g.Admit(context.Background())
		require.NoError(t, err)
		release()
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestGovernor_AdmitHonorsContext(t *testing.T) {
	g := New(1, 0)

	release, err := g.Admit(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.InFlight())
}

func TestGovernor_ReleaseIsIdempotent(t *testing.T) {
	g := New(1, 0)

	release, err := g.Admit(context.Background())
	require.NoError(t, err)
	release()
	release()

	assert.Equal(t, 0, g.InFlight())

	// The single slot must still be usable exactly once.
	second, err := g.Admit(context.Background())
	require.NoError(t, err)
	defer second()
	assert.Equal(t, 1, g.InFlight())
}

func TestGovernor_DefaultsToOneSlot(t *testing.T) {
	g := New(0, -1)
	assert.Equal(t, 1, g.MaxConcurrent())
	assert.Equal(t, rate.Inf, g.Limit())
}
