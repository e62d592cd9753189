// Package nimsuggest defines domain types for driving the nimsuggest analyzer.
// These types describe queries, decoded answers and session state independent
// of the transport used to reach the analyzer process.
package nimsuggest

import (
	"strings"
	"time"
)

// Command is an analyzer verb as written on the wire.
type Command string

const (
	CommandDefinition  Command = "def"
	CommandUsages      Command = "use"
	CommandDefUsages   Command = "dus"
	CommandSuggestions Command = "sug"
	CommandContext     Command = "con"
	CommandOutline     Command = "outline"
	CommandKnown       Command = "known"
)

var commandNames = map[Command]string{
	CommandDefinition:  "find_definition",
	CommandUsages:      "find_usages",
	CommandDefUsages:   "find_definition_and_usages",
	CommandSuggestions: "get_suggestions",
	CommandContext:     "get_context",
	CommandOutline:     "get_outline",
	CommandKnown:       "is_known",
}

// Valid reports whether c is a verb the analyzer understands.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// Name returns the human readable name used by API surfaces (e.g. "find_definition").
func (c Command) Name() string {
	return commandNames[c]
}

// ParseCommand accepts either the wire verb ("def") or the human name
// ("find_definition").
func ParseCommand(s string) (Command, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c := Command(s); c.Valid() {
		return c, true
	}
	for c, name := range commandNames {
		if name == s {
			return c, true
		}
	}
	return "", false
}

// Query is a single request against a project's analyzer.
// Line and Column are 1-based and are written to the wire unchanged.
type Query struct {
	ID       string  `json:"id,omitempty"`
	Command  Command `json:"command"`
	File     string  `json:"file"`
	Dirty    []byte  `json:"-"`
	HasDirty bool    `json:"has_dirty,omitempty"`
	Line     int     `json:"line"`
	Column   int     `json:"column"`
}

// Entry is one decoded line of analyzer output.
type Entry struct {
	Section   string `json:"section"`   // answer verb, e.g. "def"
	Kind      string `json:"kind"`      // symbol kind, e.g. "skProc"
	Symbol    string `json:"symbol"`    // qualified name, e.g. "strutils.split"
	Signature string `json:"signature"` // type signature text
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Doc       string `json:"doc,omitempty"`
	Quality   int    `json:"quality,omitempty"`
	Prefix    int    `json:"prefix,omitempty"`
}

// Container returns the owning module or type of the symbol, or "" for
// unqualified symbols.
func (e *Entry) Container() string {
	i := strings.LastIndexByte(e.Symbol, '.')
	if i <= 0 {
		return ""
	}
	return e.Symbol[:i]
}

// Name returns the unqualified symbol name.
func (e *Entry) Name() string {
	return e.Symbol[strings.LastIndexByte(e.Symbol, '.')+1:]
}

// Result is the decoded answer to a query. An empty Entries slice is a
// successful "no results" answer.
type Result struct {
	Entries  []Entry         `json:"entries"`
	Warnings []DecodeWarning `json:"warnings,omitempty"`
}

// SessionState is the lifecycle state of a project session.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionReady    SessionState = "ready"
	SessionBusy     SessionState = "busy"
	SessionCrashed  SessionState = "crashed"
	SessionStopped  SessionState = "stopped"
)

// SessionInfo is a point-in-time snapshot of a project session.
type SessionInfo struct {
	Root                string       `json:"root"`
	State               SessionState `json:"state"`
	PID                 int          `json:"pid,omitempty"`
	Queued              int          `json:"queued"`
	InFlight            bool         `json:"in_flight"`
	ConsecutiveTimeouts int          `json:"consecutive_timeouts"`
	Restarts            int          `json:"restarts"`
	OpenFiles           int          `json:"open_files"`
	StartedAt           time.Time    `json:"started_at,omitzero"`
}
