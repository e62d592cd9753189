package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

// Validate checks whether data is valid JSON conforming to the event type
// the subject ends with. Unknown event types only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case strings.HasSuffix(subject, nsDomain.EventSessionState):
		target = &nsDomain.SessionStateEvent{}
	case strings.HasSuffix(subject, nsDomain.EventQueryDone):
		target = &nsDomain.QueryDoneEvent{}
	default:
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
