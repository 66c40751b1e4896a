// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package rate

import (
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/go-core-stack/throttle/errors"
)

const (
	// DefaultMinTake is the smallest grant handed out once a caller has to wait
	DefaultMinTake int64 = 8192

	// DefaultMaxTake is the largest grant handed out without waiting
	DefaultMaxTake int64 = 262144

	nanosPerSecond int64 = int64(time.Second)
)

// Allocator paces how fast concurrent callers may consume bytes. It is
// safe for concurrent use; Configure may run while callers are blocked
// in Acquire.
type Allocator struct {
	mu      sync.Mutex
	clock   Clock
	sleeper Sleeper

	bytesPerSecond  int64 // sustained rate, 0 means unlimited
	minTake         int64 // floor for grants once waiting is required
	maxTake         int64 // burst window, largest grant without waiting
	nanosForMaxTake int64 // time to earn maxTake at bytesPerSecond, -1 if unlimited
	allocatedUntil  int64 // monotonic nanos through which throughput is committed

	// closed and replaced by Configure to wake every waiter
	wake chan struct{}
}

// AllocatorOption customizes an Allocator at construction
type AllocatorOption func(*Allocator)

// WithClock replaces the monotonic clock
func WithClock(c Clock) AllocatorOption {
	return func(a *Allocator) {
		a.clock = c
	}
}

// WithSleeper replaces the blocking primitive used while waiting
func WithSleeper(s Sleeper) AllocatorOption {
	return func(a *Allocator) {
		a.sleeper = s
	}
}

// NewAllocator returns an allocator in unlimited mode with the default
// minTake and maxTake
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		clock:           monotonicClock{},
		sleeper:         timerSleeper{},
		minTake:         DefaultMinTake,
		maxTake:         DefaultMaxTake,
		nanosForMaxTake: -1,
		wake:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.allocatedUntil = a.clock.Now()
	return a
}

// Configure replaces the rate parameters and wakes every caller blocked
// in Acquire so it re-evaluates against the new values
func (a *Allocator) Configure(bytesPerSecond, minTake, maxTake int64) error {
	if err := validateParams(bytesPerSecond, minTake, maxTake); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.bytesPerSecond = bytesPerSecond
	a.minTake = minTake
	a.maxTake = maxTake
	if bytesPerSecond != 0 {
		a.nanosForMaxTake = mulDiv(maxTake, nanosPerSecond, bytesPerSecond)
	} else {
		a.nanosForMaxTake = -1
	}
	close(a.wake)
	a.wake = make(chan struct{})
	return nil
}

func validateParams(bytesPerSecond, minTake, maxTake int64) error {
	if bytesPerSecond < 0 {
		return errors.Wrapf(errors.InvalidArgument, "bytesPerSecond must be >= 0, got %d", bytesPerSecond)
	}
	if minTake <= 0 {
		return errors.Wrapf(errors.InvalidArgument, "minTake must be > 0, got %d", minTake)
	}
	if maxTake < minTake {
		return errors.Wrapf(errors.InvalidArgument, "maxTake %d must be >= minTake %d", maxTake, minTake)
	}
	return nil
}

// SetRate changes the sustained rate keeping the current minTake and maxTake
func (a *Allocator) SetRate(bytesPerSecond int64) error {
	a.mu.Lock()
	minTake, maxTake := a.minTake, a.maxTake
	a.mu.Unlock()
	return a.Configure(bytesPerSecond, minTake, maxTake)
}

// Acquire requests byteCount bytes and returns the granted count, which
// is at least one and at most byteCount. It blocks only as long as the
// configured rate requires. There is no ordering among blocked callers.
func (a *Allocator) Acquire(byteCount int64) (int64, error) {
	if byteCount <= 0 {
		return 0, errors.Wrapf(errors.InvalidArgument, "byteCount must be > 0, got %d", byteCount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if a.bytesPerSecond == 0 {
			return byteCount, nil
		}

		now := a.clock.Now()
		idle := max(a.allocatedUntil-now, 0)
		usableNanos := a.nanosForMaxTake - idle
		immediateBytes := mulDiv(a.bytesPerSecond, usableNanos, nanosPerSecond)

		if immediateBytes >= byteCount {
			a.allocatedUntil = addSat(now+idle, mulDiv(byteCount, nanosPerSecond, a.bytesPerSecond))
			return byteCount, nil
		}
		if immediateBytes >= a.minTake {
			a.allocatedUntil = addSat(now+idle, usableNanos)
			return immediateBytes, nil
		}

		target := min(a.minTake, byteCount)
		wait := addSat(mulDivCeil(target, nanosPerSecond, a.bytesPerSecond), -usableNanos)
		wake := a.wake
		a.mu.Unlock()
		a.sleeper.Sleep(wake, time.Duration(max(wait, 1)))
		a.mu.Lock()
	}
}

// Snapshot is a point in time copy of the rate parameters
type Snapshot struct {
	BytesPerSecond int64
	MinTake        int64
	MaxTake        int64
}

// Snapshot returns the current rate parameters
func (a *Allocator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		BytesPerSecond: a.bytesPerSecond,
		MinTake:        a.minTake,
		MaxTake:        a.maxTake,
	}
}

// mulDiv returns x*y/z truncated toward zero without overflowing the
// intermediate product. z must be positive.
func mulDiv(x, y, z int64) int64 {
	neg := (x < 0) != (y < 0)
	hi, lo := bits.Mul64(abs64(x), abs64(y))
	if hi >= uint64(z) {
		// quotient does not fit, saturate
		if neg {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	q, _ := bits.Div64(hi, lo, uint64(z))
	if q > 1<<63-1 {
		q = 1<<63 - 1
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// mulDivCeil is mulDiv rounded up, for non-negative operands
func mulDivCeil(x, y, z int64) int64 {
	hi, lo := bits.Mul64(uint64(x), uint64(y))
	if hi >= uint64(z) {
		return 1<<63 - 1
	}
	q, r := bits.Div64(hi, lo, uint64(z))
	if r != 0 {
		q++
	}
	if q > 1<<63-1 {
		q = 1<<63 - 1
	}
	return int64(q)
}

// addSat returns x+y clamped to the int64 range
func addSat(x, y int64) int64 {
	switch {
	case y > 0 && x > math.MaxInt64-y:
		return math.MaxInt64
	case y < 0 && x < math.MinInt64-y:
		return math.MinInt64
	}
	return x + y
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
