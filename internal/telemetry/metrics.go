package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	opsCounter         metric.Int64Counter
	opDuration         metric.Float64Histogram
	assignmentsCounter metric.Int64Counter
	promotionsCounter  metric.Int64Counter
	httpDuration       metric.Float64Histogram
)

// InitMetrics creates the instruments. Only the first call has any effect.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		opsCounter, err = m.Int64Counter("workgraph_operations_total", metric.WithDescription("Engine operations by name and outcome"))
		if err != nil {
			return
		}
		opDuration, err = m.Float64Histogram("workgraph_operation_duration_seconds", metric.WithDescription("Engine operation latency in seconds"))
		if err != nil {
			return
		}
		assignmentsCounter, err = m.Int64Counter("workgraph_assignments_total", metric.WithDescription("Assignment selector results"))
		if err != nil {
			return
		}
		promotionsCounter, err = m.Int64Counter("workgraph_ready_promotions_total", metric.WithDescription("Tasks advanced from pending to ready"))
		if err != nil {
			return
		}
		httpDuration, err = m.Float64Histogram("workgraph_http_request_duration_seconds", metric.WithDescription("HTTP request latency in seconds"))
	})
	return err
}

// RecordOp records one engine operation. outcome is "ok" or an error class.
func RecordOp(ctx context.Context, op, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(AttrOperation.String(op), AttrOutcome.String(outcome))
	if opsCounter != nil {
		opsCounter.Add(ctx, 1, attrs)
	}
	if opDuration != nil {
		opDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func RecordAssignment(ctx context.Context, team, outcome string) {
	if assignmentsCounter == nil {
		return
	}
	assignmentsCounter.Add(ctx, 1, metric.WithAttributes(AttrTeam.String(team), AttrOutcome.String(outcome)))
}

func RecordPromotion(ctx context.Context) {
	if promotionsCounter != nil {
		promotionsCounter.Add(ctx, 1)
	}
}

func RecordHTTPRequest(ctx context.Context, route string, status int, d time.Duration) {
	if httpDuration == nil {
		return
	}
	httpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrRoute.String(route), AttrStatus.Int(status)))
}

// StatusCountFunc reports task counts keyed by status.
type StatusCountFunc func(ctx context.Context) (map[string]int, error)

// RegisterTaskGauge exports workgraph_tasks by status, read on each scrape.
func RegisterTaskGauge(counts StatusCountFunc) error {
	if counts == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("workgraph_tasks", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		byStatus, err := counts(ctx)
		if err != nil {
			return err
		}
		for status, n := range byStatus {
			o.ObserveInt64(gauge, int64(n), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, gauge)
	return err
}
