package nimsuggest

import (
	"context"
	"errors"
)

// Event types published for session activity.
const (
	EventSessionState = "session.state"
	EventQueryDone    = "query.done"
)

// Query outcomes as reported in QueryDoneEvent and metrics.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeCrashed   = "crashed"
	OutcomeSpawn     = "spawn_failed"
	OutcomeInvalid   = "invalid"
	OutcomeStopped   = "stopped"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// State change reasons.
const (
	// ReasonRespawn marks the Starting transition of a session replacing a
	// crashed or retired analyzer.
	ReasonRespawn = "respawn"
	// ReasonTimeouts prefixes the Crashed transition of an analyzer retired
	// after too many consecutive timeouts.
	ReasonTimeouts = "timeouts"
)

// SessionStateEvent is published whenever a session changes state.
type SessionStateEvent struct {
	Root     string       `json:"root"`
	State    SessionState `json:"state"`
	PID      int          `json:"pid,omitempty"`
	Restarts int          `json:"restarts"`
	Reason   string       `json:"reason,omitempty"`
}

// QueryDoneEvent is published after a query has been answered or failed.
type QueryDoneEvent struct {
	ID         string  `json:"id"`
	Root       string  `json:"root"`
	Command    Command `json:"command"`
	File       string  `json:"file"`
	Outcome    string  `json:"outcome"`
	Entries    int     `json:"entries"`
	Warnings   int     `json:"warnings,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// Outcome classifies a query error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrProcessCrashed):
		return OutcomeCrashed
	case errors.Is(err, ErrSpawn):
		return OutcomeSpawn
	case errors.Is(err, ErrInvalidQuery):
		return OutcomeInvalid
	case errors.Is(err, ErrSessionStopped):
		return OutcomeStopped
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
