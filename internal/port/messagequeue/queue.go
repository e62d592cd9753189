// Package messagequeue defines the event queue port: subjects, payload
// validation and the consumer handler signature.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Status reports whether the queue connection is currently up.
type Status interface {
	IsConnected() bool
}

// Subject returns the subject an event type is published on.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}
