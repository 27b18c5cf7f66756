package sse

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type hubMetrics struct {
	dropped metric.Int64Counter
	evicted metric.Int64Counter
}

func newHubMetrics(h *Hub) *hubMetrics {
	meter := otel.Meter("github.com/execution-hub/serial-reservation/sse")
	m := &hubMetrics{}
	var err error

	m.dropped, err = meter.Int64Counter("reservation.fanout.dropped",
		metric.WithDescription("Events dropped from full session queues"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("metric init failed")
	}
	m.evicted, err = meter.Int64Counter("reservation.fanout.evicted",
		metric.WithDescription("Sessions torn down for falling behind"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("metric init failed")
	}

	if _, err := meter.Int64ObservableGauge("reservation.fanout.sessions",
		metric.WithDescription("Connected sessions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(h.Count()))
			return nil
		})); err != nil {
		h.logger.Warn().Err(err).Msg("metric init failed")
	}
	return m
}

func (m *hubMetrics) recordDrop() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Add(context.Background(), 1)
}

func (m *hubMetrics) recordEvict() {
	if m == nil || m.evicted == nil {
		return
	}
	m.evicted.Add(context.Background(), 1)
}
