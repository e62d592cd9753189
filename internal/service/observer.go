package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	nsotel "github.com/nimlime/nimsuggestd/internal/adapter/otel"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/logger"
	"github.com/nimlime/nimsuggestd/internal/port/broadcast"
)

// EventObserver records session activity as metrics and publishes it to
// every configured broadcaster.
type EventObserver struct {
	metrics      *nsotel.Metrics
	broadcasters []broadcast.Broadcaster
}

// NewEventObserver creates an observer. metrics may be nil.
func NewEventObserver(metrics *nsotel.Metrics, broadcasters ...broadcast.Broadcaster) *EventObserver {
	return &EventObserver{metrics: metrics, broadcasters: broadcasters}
}

// SessionStateChanged implements Observer.
func (o *EventObserver) SessionStateChanged(ev nsDomain.SessionStateEvent) {
	ctx := context.Background()
	if o.metrics != nil {
		o.metrics.StateChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(ev.State)),
		))
		if ev.State == nsDomain.SessionStarting && ev.Reason == nsDomain.ReasonRespawn {
			o.metrics.Restarts.Add(ctx, 1)
		}
	}
	o.publish(ctx, nsDomain.EventSessionState, ev)
}

// QueryDone implements Observer. The query ID travels in the context so
// broadcasters can attach it to the message.
func (o *EventObserver) QueryDone(ev nsDomain.QueryDoneEvent) {
	ctx := logger.WithQueryID(context.Background(), ev.ID)
	if o.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("command", string(ev.Command)),
			attribute.String("outcome", ev.Outcome),
		)
		o.metrics.Queries.Add(ctx, 1, attrs)
		o.metrics.QueryDuration.Record(ctx, float64(ev.DurationMS)/1000, attrs)
		if ev.Warnings > 0 {
			o.metrics.DecodeWarns.Add(ctx, int64(ev.Warnings))
		}
	}
	o.publish(ctx, nsDomain.EventQueryDone, ev)
}

func (o *EventObserver) publish(ctx context.Context, eventType string, payload any) {
	for _, b := range o.broadcasters {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}
