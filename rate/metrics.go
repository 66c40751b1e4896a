// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package rate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/go-core-stack/throttle/rate"

type limiterMetrics struct {
	granted metric.Int64Counter
	waits   metric.Float64Histogram
}

func newLimiterMetrics(mp metric.MeterProvider) (*limiterMetrics, error) {
	meter := mp.Meter(instrumentationName)
	granted, err := meter.Int64Counter("throttle.bytes.granted",
		metric.WithDescription("Bytes granted to throttled streams"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	waits, err := meter.Float64Histogram("throttle.acquire.wait",
		metric.WithDescription("Time spent waiting for a grant"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &limiterMetrics{granted: granted, waits: waits}, nil
}

func (m *limiterMetrics) record(ctx context.Context, n int64, waited time.Duration, attrs metric.MeasurementOption) {
	m.granted.Add(ctx, n, attrs)
	m.waits.Record(ctx, waited.Seconds(), attrs)
}
