// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package rate

import (
	"time"
)

// Clock supplies monotonic time in nanoseconds. Values must never decrease.
type Clock interface {
	Now() int64
}

// Sleeper blocks the caller for up to d, returning early if wake is
// closed. Returning early for any other reason is allowed, callers
// re-evaluate their condition after every return.
type Sleeper interface {
	Sleep(wake <-chan struct{}, d time.Duration)
}

// process wide reference point, time.Since uses the monotonic reading
var epoch = time.Now()

type monotonicClock struct{}

func (monotonicClock) Now() int64 {
	return int64(time.Since(epoch))
}

type timerSleeper struct{}

func (timerSleeper) Sleep(wake <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-wake:
	}
}

// MonotonicClock returns the runtime monotonic clock used by default
func MonotonicClock() Clock {
	return monotonicClock{}
}

// TimerSleeper returns the timer based Sleeper used by default
func TimerSleeper() Sleeper {
	return timerSleeper{}
}
