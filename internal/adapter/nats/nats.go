// Package nats publishes session events to NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nimlime/nimsuggestd/internal/logger"
	"github.com/nimlime/nimsuggestd/internal/port/messagequeue"
)

const (
	streamName    = "NIMSUGGESTD"
	streamMaxAge  = time.Hour
	headerQueryID = "Nimsuggestd-Query-Id"
)

// Queue implements broadcast.Broadcaster and messagequeue.Status using NATS
// JetStream. Events are kept in a memory stream for an hour so late
// subscribers can catch up.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect establishes a connection to NATS and ensures the event stream
// exists. Events are published on "<prefix>.<event type>".
func Connect(ctx context.Context, url, prefix string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("nimsuggestd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{messagequeue.Subject(prefix, ">")},
		Storage:  jetstream.MemoryStorage,
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "prefix", prefix)
	return &Queue{nc: nc, js: js, prefix: prefix}, nil
}

// BroadcastEvent publishes an event without waiting for the acknowledgement.
// It is called from session workers and never blocks on the server.
func (q *Queue) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal nats event payload", "type", eventType, "error", err)
		return
	}
	subject := messagequeue.Subject(q.prefix, eventType)
	if err := messagequeue.Validate(subject, data); err != nil {
		slog.Error("nats event rejected", "subject", subject, "error", err)
		return
	}
	if _, err := q.js.PublishMsgAsync(q.msg(ctx, subject, data)); err != nil {
		slog.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

func (q *Queue) msg(ctx context.Context, subject string, data []byte) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = data
	if id := logger.QueryID(ctx); id != "" {
		m.Header.Set(headerQueryID, id)
	}
	return m
}

// Subscribe delivers messages published on subject from now on. Messages
// whose handler fails are logged and skipped.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx := context.Background()
		if id := msg.Headers().Get(headerQueryID); id != "" {
			msgCtx = logger.WithQueryID(msgCtx, id)
		}
		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Drain waits for outstanding async publishes and drains the connection.
func (q *Queue) Drain() error {
	select {
	case <-q.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		slog.Warn("nats async publishes still pending at drain", "pending", q.js.PublishAsyncPending())
	}
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
