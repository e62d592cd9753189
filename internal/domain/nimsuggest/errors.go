package nimsuggest

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn indicates the analyzer executable is missing or could not be launched.
	ErrSpawn = errors.New("analyzer spawn failed")

	// ErrTimeout indicates no response arrived within the query timeout.
	ErrTimeout = errors.New("analyzer request timed out")

	// ErrProcessCrashed indicates the analyzer channel closed unexpectedly.
	ErrProcessCrashed = errors.New("analyzer process crashed")

	// ErrInvalidQuery indicates a query that cannot be encoded on the wire.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSessionStopped indicates the session was terminated before the query ran.
	ErrSessionStopped = errors.New("session stopped")
)

// DecodeWarning describes an output line that was skipped while decoding.
type DecodeWarning struct {
	Line   int    `json:"line"` // 1-based index within the response
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (w DecodeWarning) Error() string {
	return fmt.Sprintf("decode warning: line %d: %s", w.Line, w.Reason)
}
