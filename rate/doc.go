// Package rate provides a bandwidth-capped byte allocator and rate limited
// stream wrappers built on it.
//
// # Overview
//
// An Allocator paces how fast concurrent callers may consume bytes. A caller
// asks for a byte count with Acquire and gets back a grant that may be
// smaller, blocking only as long as the configured sustained rate requires:
//
//	a := rate.NewAllocator()
//	_ = a.Configure(1<<20, 8192, 256*1024) // 1MB/s, 8KB floor, 256KB burst
//	n, _ := a.Acquire(int64(len(buf)))
//	conn.Write(buf[:n])
//
// A rate of zero means unlimited, every request is granted in full.
//
// # Accounting
//
// The allocator keeps a single marker, allocatedUntil, the point in monotonic
// time through which throughput is already committed to past grants. On every
// pass through Acquire it reads the clock and derives:
//
//   - idle: how far allocatedUntil is ahead of now
//   - usable: the part of the burst window (maxTake worth of time) not yet used
//   - immediate: the bytes obtainable right now without waiting
//
// If immediate covers the request it is granted in full. If it covers at least
// minTake, immediate is granted and the burst window is spent. Otherwise the
// caller sleeps until min(minTake, request) bytes are available and tries
// again from a fresh clock reading.
//
// # Reconfiguration
//
// Configure may run while callers are blocked. It wakes all of them, and each
// re-evaluates against the new parameters. There is no ordering among blocked
// callers, any of them may proceed first once capacity is available.
//
// # Cancellation
//
// Acquire has no cancellation. The stream wrappers check their context before
// every chunk, so a cancelled transfer stops after the grant in flight.
//
// # Dynamic Capacity Rebalancing
//
// The LimitManager registers keyed limiters, each owning an Allocator, and
// redistributes an aggregate budget among limiters with open streams:
//
//   - When a limiter becomes active, it receives a share of the total capacity
//   - When a limiter becomes idle, it returns to its own configured rate
//   - Capacity is allocated proportionally based on configured rates
//
// # Example Usage
//
//	mgr, _ := rate.NewLimitManager(1024*1024, rate.WithLogger(logger))
//	_, _ = mgr.NewLimiter("tenant-a", 512*1024, 8*1024, 64*1024)
//
//	limitedReader, _ := mgr.WrapReader(ctx, "tenant-a", reader)
//	defer limitedReader.Close()
//	io.Copy(dst, limitedReader)
package rate
