// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package rate

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/errors"
)

// LimitManager tracks the configured limiters and redistributes
// capacity when individual limiters go in or out of active use.
type LimitManager struct {
	rate      int64               // aggregate rate budget shared by all limiters, 0 disables rebalancing
	mu        sync.Mutex          // protects concurrent access to the limiter state
	limiters  map[string]*Limiter // registry of all configured limiters
	inUse     map[string]*Limiter // subset of limiters currently marked as active
	logger    *zap.Logger
	metrics   *limiterMetrics
	allocOpts []AllocatorOption
}

// ManagerOption customizes a LimitManager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger        *zap.Logger
	meterProvider metric.MeterProvider
	allocOpts     []AllocatorOption
}

// WithLogger sets the logger, zap.NewNop() is used otherwise
func WithLogger(l *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithMeterProvider sets the meter provider, the global one is used otherwise
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(o *managerOptions) {
		o.meterProvider = mp
	}
}

// WithAllocatorOptions is applied to every allocator the manager creates
func WithAllocatorOptions(opts ...AllocatorOption) ManagerOption {
	return func(o *managerOptions) {
		o.allocOpts = append(o.allocOpts, opts...)
	}
}

// NewLimitManager constructs a LimitManager with the specified aggregate rate budget.
func NewLimitManager(rate int64, opts ...ManagerOption) (*LimitManager, error) {
	if rate < 0 {
		return nil, errors.Wrapf(errors.InvalidArgument, "aggregate rate must be >= 0, got %d", rate)
	}
	o := &managerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	m, err := newLimiterMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}
	return &LimitManager{
		rate:      rate,
		limiters:  make(map[string]*Limiter),
		inUse:     make(map[string]*Limiter),
		logger:    o.logger,
		metrics:   m,
		allocOpts: o.allocOpts,
	}, nil
}

// updateInUse marks a limiter as being actively used and reapportions
// the available rate across the currently active limiters.
func (m *LimitManager) updateInUse(l *Limiter, use bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limiters[l.key] != l {
		// deregistered, Delete already put it back on its nominal rate
		// and the key may now belong to a newer limiter
		return
	}
	if use {
		m.inUse[l.key] = l
	} else {
		delete(m.inUse, l.key)
		m.restoreNominal(l)
	}
	m.rebalance()
}

// restoreNominal puts a limiter back on its own configured rate
func (m *LimitManager) restoreNominal(l *Limiter) {
	n := l.Nominal()
	if err := l.alloc.Configure(n.BytesPerSecond, n.MinTake, n.MaxTake); err != nil {
		m.logger.Error("failed to restore limiter rate", zap.String("limiter", l.key), zap.Error(err))
	}
}

// rebalance scales each active limiter in proportion to its nominal rate
// so the aggregate budget is fully consumed. Unlimited limiters stay
// unlimited. Allocators already on their target are not reconfigured.
// Must be called with m.mu held.
func (m *LimitManager) rebalance() {
	if m.rate == 0 || len(m.inUse) == 0 {
		return
	}
	var sumActive int64
	for _, l := range m.inUse {
		sumActive += l.Nominal().BytesPerSecond
	}
	for _, l := range m.inUse {
		target := l.Nominal()
		if target.BytesPerSecond != 0 {
			target.BytesPerSecond = max(mulDiv(target.BytesPerSecond, m.rate, sumActive), 1)
		}
		if l.alloc.Snapshot() == target {
			continue
		}
		if err := l.alloc.Configure(target.BytesPerSecond, target.MinTake, target.MaxTake); err != nil {
			m.logger.Error("failed to rebalance limiter", zap.String("limiter", l.key), zap.Error(err))
			continue
		}
		m.logger.Debug("limiter rebalanced",
			zap.String("limiter", l.key),
			zap.Int64("effective", target.BytesPerSecond))
	}
}

// NewLimiter registers a limiter with the manager and returns it for use.
// The limiter is configured with the provided sustained rate and take bounds.
func (m *LimitManager) NewLimiter(key string, r, minTake, maxTake int64) (*Limiter, error) {
	if key == "" {
		return nil, errors.Wrapf(errors.InvalidArgument, "limiter key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.limiters[key]
	if ok {
		return nil, errors.Wrapf(errors.AlreadyExists, "limiter %q, already exists", key)
	}
	lim := newLimiter(m, key, r, minTake, maxTake)
	if err := lim.configure(r, minTake, maxTake); err != nil {
		return nil, err
	}
	m.limiters[key] = lim
	m.logger.Info("limiter registered",
		zap.String("limiter", key),
		zap.Int64("bytesPerSecond", r),
		zap.Int64("minTake", minTake),
		zap.Int64("maxTake", maxTake))
	return lim, nil
}

// Get returns the limiter registered under key
func (m *LimitManager) Get(key string) (*Limiter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		return nil, errors.Wrapf(errors.NotFound, "limiter %q not found", key)
	}
	return lim, nil
}

// Keys returns the registered limiter keys in sorted order
func (m *LimitManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.limiters))
	for k := range m.limiters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Configure changes the nominal parameters of a registered limiter. If
// the limiter is in use the aggregate budget is reapportioned; either
// way its blocked callers re-evaluate against the new values.
func (m *LimitManager) Configure(key string, r, minTake, maxTake int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		return errors.Wrapf(errors.NotFound, "limiter %q not found", key)
	}
	_, active := m.inUse[key]
	if active && m.rate != 0 {
		// rebalance configures the allocator once with the new share
		if err := validateParams(r, minTake, maxTake); err != nil {
			return err
		}
		lim.setNominal(r, minTake, maxTake)
	} else if err := lim.configure(r, minTake, maxTake); err != nil {
		return err
	}
	m.logger.Info("limiter reconfigured",
		zap.String("limiter", key),
		zap.Int64("bytesPerSecond", r),
		zap.Int64("minTake", minTake),
		zap.Int64("maxTake", maxTake))
	if active {
		m.rebalance()
	}
	return nil
}

// Delete removes a limiter from the registry. Streams already wrapping
// it keep their allocator but no longer take part in rebalancing.
func (m *LimitManager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		return errors.Wrapf(errors.NotFound, "limiter %q not found", key)
	}
	delete(m.limiters, key)
	if m.inUse[key] == lim {
		delete(m.inUse, key)
		m.restoreNominal(lim)
		m.rebalance()
	}
	m.logger.Info("limiter removed", zap.String("limiter", key))
	return nil
}

func (m *LimitManager) acquireForStream(key string) (*Limiter, string, error) {
	lim, err := m.Get(key)
	if err != nil {
		return nil, "", err
	}
	lim.SetInUse(true)
	id := uuid.NewString()
	m.logger.Debug("stream opened", zap.String("limiter", key), zap.String("stream", id))
	return lim, id, nil
}

func (m *LimitManager) WrapReader(ctx context.Context, key string, rc io.ReadCloser) (RateLimitedReader, error) {
	lim, id, err := m.acquireForStream(key)
	if err != nil {
		return nil, err
	}
	return &rlReader{
		ctx: ctx,
		id:  id,
		rc:  rc,
		lim: lim,
	}, nil
}

func (m *LimitManager) WrapWriter(ctx context.Context, key string, wc io.WriteCloser) (RateLimitedWriter, error) {
	lim, id, err := m.acquireForStream(key)
	if err != nil {
		return nil, err
	}
	return &rlStreamWriter{
		ctx: ctx,
		id:  id,
		wc:  wc,
		lim: lim,
	}, nil
}

func (m *LimitManager) WrapHTTPResponseWriter(ctx context.Context, key string, w http.ResponseWriter) (RateLimitedHTTPResponseWriter, error) {
	lim, id, err := m.acquireForStream(key)
	if err != nil {
		return nil, err
	}
	return &rlWriter{
		ctx: ctx,
		id:  id,
		w:   w,
		lim: lim,
	}, nil
}

func (m *LimitManager) streamClosed(lim *Limiter, id string) {
	lim.SetInUse(false)
	m.logger.Debug("stream closed", zap.String("limiter", lim.key), zap.String("stream", id))
}
