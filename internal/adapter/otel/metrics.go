package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "nimsuggestd"

// Metrics holds all nimsuggestd metric instruments.
type Metrics struct {
	Queries       metric.Int64Counter
	QueryDuration metric.Float64Histogram
	StateChanges  metric.Int64Counter
	Restarts      metric.Int64Counter
	DecodeWarns   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Queries, err = meter.Int64Counter("nimsuggestd.queries",
		metric.WithDescription("Number of analyzer queries by command and outcome"))
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("nimsuggestd.query.duration_seconds",
		metric.WithDescription("Query latency from dequeue to delivery in seconds"))
	if err != nil {
		return nil, err
	}

	m.StateChanges, err = meter.Int64Counter("nimsuggestd.session.state_changes",
		metric.WithDescription("Number of session state transitions"))
	if err != nil {
		return nil, err
	}

	m.Restarts, err = meter.Int64Counter("nimsuggestd.session.restarts",
		metric.WithDescription("Number of analyzer respawns after a crash or retirement"))
	if err != nil {
		return nil, err
	}

	m.DecodeWarns, err = meter.Int64Counter("nimsuggestd.decode.warnings",
		metric.WithDescription("Number of analyzer output lines skipped while decoding"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
