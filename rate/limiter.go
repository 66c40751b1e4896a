package rate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter is a keyed Allocator registered with a LimitManager. It tracks
// how many streams are using it so the manager can rebalance capacity.
type Limiter struct {
	mgr     *LimitManager
	key     string
	rate    int64 // nominal bytes per second, before rebalancing
	minTake int64
	maxTake int64
	alloc   *Allocator
	usage   int // number of open streams wrapping this limiter
	mu      sync.Mutex

	attrs    metric.MeasurementOption
	logEvery rate.Sometimes
}

func newLimiter(m *LimitManager, key string, r, minTake, maxTake int64) *Limiter {
	return &Limiter{
		mgr:      m,
		key:      key,
		rate:     r,
		minTake:  minTake,
		maxTake:  maxTake,
		alloc:    NewAllocator(m.allocOpts...),
		attrs:    metric.WithAttributes(attribute.String("limiter", key)),
		logEvery: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Key returns the name the limiter is registered under
func (l *Limiter) Key() string {
	return l.key
}

// Allocator exposes the underlying allocator
func (l *Limiter) Allocator() *Allocator {
	return l.alloc
}

// Nominal returns the configured parameters, ignoring rebalancing
func (l *Limiter) Nominal() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{BytesPerSecond: l.rate, MinTake: l.minTake, MaxTake: l.maxTake}
}

// Streams returns the number of open streams wrapping the limiter
func (l *Limiter) Streams() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

func (l *Limiter) configure(newRate, minTake, maxTake int64) error {
	if err := l.alloc.Configure(newRate, minTake, maxTake); err != nil {
		return err
	}
	l.setNominal(newRate, minTake, maxTake)
	return nil
}

// setNominal records the parameters without touching the allocator,
// the caller is expected to rebalance
func (l *Limiter) setNominal(newRate, minTake, maxTake int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = newRate
	l.minTake = minTake
	l.maxTake = maxTake
}

// SetInUse increments or decrements the active usage counter and notifies the
// LimitManager when the limiter transitions between idle and active states.
func (l *Limiter) SetInUse(use bool) {
	if l.mgr == nil {
		panic("limiter not initialized with manager")
	}
	l.mu.Lock()
	notify, activate := false, false
	if use {
		if l.usage == 0 {
			l.usage = 1
			notify, activate = true, true
		} else {
			l.usage++
		}
	} else {
		if l.usage == 1 {
			l.usage = 0
			notify = true
		} else if l.usage > 1 {
			l.usage--
		}
	}
	l.mu.Unlock()
	if notify {
		l.mgr.updateInUse(l, activate)
	}
}

// Take checks the context, then acquires up to want bytes from the
// allocator, blocking as the rate requires. The wait itself is not
// interruptible; a cancelled context is observed before the next chunk.
func (l *Limiter) Take(ctx context.Context, want int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := l.alloc.Acquire(int64(want))
	if err != nil {
		return 0, err
	}
	waited := time.Since(start)
	l.mgr.metrics.record(ctx, n, waited, l.attrs)
	if waited > time.Millisecond {
		l.logEvery.Do(func() {
			l.mgr.logger.Debug("stream throttled",
				zap.String("limiter", l.key),
				zap.Int("requested", want),
				zap.Int64("granted", n),
				zap.Duration("waited", waited))
		})
	}
	return int(n), nil
}
