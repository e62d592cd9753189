// Package broadcast defines the port through which session lifecycle and
// query completion events leave the core.
package broadcast

import "context"

// Broadcaster delivers session events to interested clients. It is called
// from session workers and must not block on slow consumers.
type Broadcaster interface {
	// BroadcastEvent publishes payload under eventType, one of the
	// nimsuggest.Event* constants.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
