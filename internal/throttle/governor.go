// Package throttle bounds how many batch sends run at once and how fast new
// ones may start.
package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
)

// Governor enforces two independent ceilings over one upload invocation:
// a maximum number of concurrently running sends and a maximum rate of
// send starts per second. It only ever delays admission; it never rejects.
type Governor struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	slots   int64

	inFlight atomic.Int64
	admitted atomic.Int64
	peak     atomic.Int64

	// onAdmit, when set, receives the time each admission was scheduled for.
	onAdmit func(at time.Time)
}

// New creates a governor allowing maxConcurrent sends at once and qps starts
// per second. qps <= 0 means no rate ceiling.
func New(maxConcurrent int, qps float64) *Governor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	limit := rate.Inf
	if qps > 0 && !math.IsInf(qps, 1) {
		limit = rate.Limit(qps)
	}

	return &Governor{
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
		// Burst 1: consecutive starts are at least 1/qps apart.
		limiter: rate.NewLimiter(limit, 1),
		slots:   int64(maxConcurrent),
	}
}

// Admit blocks until a concurrency slot is free and a rate token is
// available. The returned release func must be called exactly once when the
// send finishes. The only error is ctx ending before admission; a deadline
// that has not yet passed never shortens the wait.
func (g *Governor) Admit(ctx context.Context) (func(), error) {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	at, err := g.waitToken(ctx)
	if err != nil {
		g.sem.Release(1)
		return nil, err
	}
	if g.onAdmit != nil {
		g.onAdmit(at)
	}

	n := g.inFlight.Add(1)
	g.admitted.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if m := metrics.Get(); m != nil {
		m.ObserveAdmissionWait(time.Since(start).Seconds())
		m.AddInFlight(1)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
			if m := metrics.Get(); m != nil {
				m.AddInFlight(-1)
			}
		})
	}, nil
}

// waitToken reserves the next rate token and sleeps until it is due. The
// reservation is handed back if ctx ends first.
func (g *Governor) waitToken(ctx context.Context) (time.Time, error) {
	now := time.Now()
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Time{}, fmt.Errorf("rate limit burst %d too small", g.limiter.Burst())
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return now, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return now.Add(delay), nil
	case <-ctx.Done():
		r.Cancel()
		return time.Time{}, ctx.Err()
	}
}

// InFlight returns the number of admitted sends not yet released.
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Admitted returns the total number of admissions so far.
func (g *Governor) Admitted() int {
	return int(g.admitted.Load())
}

// Peak returns the highest in-flight count observed.
func (g *Governor) Peak() int {
	return int(g.peak.Load())
}

// MaxConcurrent returns the concurrency ceiling.
func (g *Governor) MaxConcurrent() int {
	return int(g.slots)
}

// Limit returns the configured rate, rate.Inf when unlimited.
func (g *Governor) Limit() rate.Limit {
	return g.limiter.Limit()
}
