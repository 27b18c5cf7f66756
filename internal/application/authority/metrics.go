package authority

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const meterName = "github.com/execution-hub/serial-reservation/authority"

type metrics struct {
	requests      metric.Int64Counter
	releases      metric.Int64Counter
	commits       metric.Int64Counter
	swept         metric.Int64Counter
	storeDuration metric.Int64Histogram
	reservedGauge metric.Int64ObservableGauge
	reserved      atomic.Int64
}

func newMetrics(logger zerolog.Logger) *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"reservation.request",
		metric.WithDescription("Reservation requests by outcome"),
	)
	logMetricInitError(logger, "reservation.request", err)

	m.releases, err = meter.Int64Counter(
		"reservation.release",
		metric.WithDescription("Release messages by outcome"),
	)
	logMetricInitError(logger, "reservation.release", err)

	m.commits, err = meter.Int64Counter(
		"reservation.commit",
		metric.WithDescription("Commit messages by outcome"),
	)
	logMetricInitError(logger, "reservation.commit", err)

	m.swept, err = meter.Int64Counter(
		"reservation.idle_released",
		metric.WithDescription("Reservations released by the idle sweep"),
	)
	logMetricInitError(logger, "reservation.idle_released", err)

	m.storeDuration, err = meter.Int64Histogram(
		"reservation.store.consume.duration_ms",
		metric.WithDescription("Duration of the store consume call"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "reservation.store.consume.duration_ms", err)

	m.reservedGauge, err = meter.Int64ObservableGauge(
		"reservation.reserved",
		metric.WithDescription("Tokens currently reserved"),
	)
	logMetricInitError(logger, "reservation.reserved", err)

	if m.reservedGauge != nil {
		if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(m.reservedGauge, m.reserved.Load())
			return nil
		}, m.reservedGauge); err != nil {
			logger.Warn().Err(err).Str("name", "reservation.reserved").Msg("metric callback registration failed")
		}
	}
	return m
}

func logMetricInitError(logger zerolog.Logger, name string, err error) {
	if err != nil {
		logger.Warn().Err(err).Str("name", name).Msg("metric init failed")
	}
}

func outcomeAttr(reason token.Reason) metric.MeasurementOption {
	outcome := "accepted"
	if reason != "" {
		outcome = string(reason)
	}
	return metric.WithAttributes(attribute.String("reservation.outcome", outcome))
}

func (m *metrics) recordRequest(reason token.Reason) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(context.Background(), 1, outcomeAttr(reason))
}

func (m *metrics) recordRelease(reason token.Reason) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.Add(context.Background(), 1, outcomeAttr(reason))
}

func (m *metrics) recordCommit(reason token.Reason) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.Add(context.Background(), 1, outcomeAttr(reason))
}

func (m *metrics) recordSweep(n int) {
	if m == nil || m.swept == nil || n == 0 {
		return
	}
	m.swept.Add(context.Background(), int64(n))
}

func (m *metrics) recordStoreCall(d time.Duration, err error) {
	if m == nil || m.storeDuration == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeDuration.Record(context.Background(), d.Milliseconds(), metric.WithAttributes(attribute.String("reservation.store.result", result)))
}

func (m *metrics) addReserved(delta int64) {
	if m == nil {
		return
	}
	m.reserved.Add(delta)
}
