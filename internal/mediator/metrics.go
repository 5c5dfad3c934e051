package mediator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/actionqueue"
)

const meterName = "github.com/Iron-Ham/walletgate/internal/mediator"

// Metric names.
const (
	MetricEnqueued        = "walletgate.actions.enqueued"
	MetricResolved        = "walletgate.actions.resolved"
	MetricDecisionLatency = "walletgate.decision.latency"
	MetricQueueDepth      = "walletgate.queue.depth"
)

type metrics struct {
	enqueued metric.Int64Counter
	resolved metric.Int64Counter
	latency  metric.Float64Histogram
	depth    metric.Int64ObservableGauge
}

// newMetrics registers the mediator instruments. depth is read on every
// collection to report active actions per status.
func newMetrics(mp metric.MeterProvider, depth func() actionqueue.QueueStatus) (*metrics, error) {
	meter := mp.Meter(meterName)
	m := &metrics{}
	var err error

	m.enqueued, err = meter.Int64Counter(MetricEnqueued,
		metric.WithDescription("Wallet actions accepted from originators"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	m.resolved, err = meter.Int64Counter(MetricResolved,
		metric.WithDescription("Wallet actions that reached a terminal state"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram(MetricDecisionLatency,
		metric.WithDescription("Time from promotion to operator decision in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, err
	}

	m.depth, err = meter.Int64ObservableGauge(MetricQueueDepth,
		metric.WithDescription("Active wallet actions by status"),
		metric.WithUnit("{action}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := depth()
			o.Observe(int64(s.Queued), metric.WithAttributes(attribute.String("status", string(action.StatusQueued))))
			o.Observe(int64(s.AwaitingUser), metric.WithAttributes(attribute.String("status", string(action.StatusAwaitingUser))))
			o.Observe(int64(s.Processing), metric.WithAttributes(attribute.String("status", string(action.StatusProcessing))))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordEnqueued(ctx context.Context, token string) {
	m.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("token", token)))
}

func (m *metrics) recordResolved(ctx context.Context, a action.WalletAction) {
	m.resolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(a.Status)),
		attribute.String("token", a.TokenSymbol),
	))
}

func (m *metrics) recordDecision(ctx context.Context, d time.Duration, approved bool) {
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("approved", approved)))
}
