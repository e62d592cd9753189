package http

import (
	"context"
	"net/http"

	"github.com/nimlime/nimsuggestd/internal/adapter/ws"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/messagequeue"
	"github.com/nimlime/nimsuggestd/internal/service"
)

// Handlers holds the dependencies of the HTTP API. Events is nil when no
// event queue is configured.
type Handlers struct {
	Nimsuggest *service.NimsuggestService
	Hub        *ws.Hub
	Events     messagequeue.Status
}

// queryRequest is the body of every position based endpoint. Dirty, when
// present, is the unsaved buffer content of File.
type queryRequest struct {
	ID      string  `json:"id,omitempty"`
	Command string  `json:"command,omitempty"`
	File    string  `json:"file"`
	Line    int     `json:"line"`
	Column  int     `json:"column"`
	Dirty   *string `json:"dirty,omitempty"`
}

func (req *queryRequest) query(cmd nsDomain.Command) *nsDomain.Query {
	q := &nsDomain.Query{
		ID:      req.ID,
		Command: cmd,
		File:    req.File,
		Line:    req.Line,
		Column:  req.Column,
	}
	if req.Dirty != nil {
		q.Dirty = []byte(*req.Dirty)
		q.HasDirty = true
	}
	return q
}

type queryResponse struct {
	ID      string           `json:"id"`
	Command nsDomain.Command `json:"command"`
	Result  *nsDomain.Result `json:"result"`
}

type entriesResponse struct {
	Entries []nsDomain.Entry `json:"entries"`
}

type definitionResponse struct {
	Entry   *nsDomain.Entry `json:"entry"`
	Message string          `json:"message,omitempty"`
}

type fileRequest struct {
	File string `json:"file"`
}

// readQuery decodes and checks a position request.
func readQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	req, ok := readJSON[queryRequest](w, r, maxRequestBodySize)
	if !ok {
		return req, false
	}
	return req, requireField(w, req.File, "file")
}

// Query runs a raw analyzer command.
// POST /api/v1/query
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := readQuery(w, r)
	if !ok || !requireField(w, req.Command, "command") {
		return
	}
	cmd, ok := nsDomain.ParseCommand(req.Command)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown command "+req.Command)
		return
	}

	q := req.query(cmd)
	res, err := h.Nimsuggest.Query(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{ID: q.ID, Command: cmd, Result: res})
}

// Definition returns the definition to jump to. With several candidates
// the first one is returned.
// POST /api/v1/definition
func (h *Handlers) Definition(w http.ResponseWriter, r *http.Request) {
	req, ok := readQuery(w, r)
	if !ok {
		return
	}
	e, err := h.Nimsuggest.Definition(r.Context(), req.query(nsDomain.CommandDefinition), nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := definitionResponse{Entry: e}
	if e == nil {
		resp.Message = service.MsgNoDefinition
	}
	writeJSON(w, http.StatusOK, resp)
}

// Signatures lists the signatures of the definitions at a position.
// POST /api/v1/signatures
func (h *Handlers) Signatures(w http.ResponseWriter, r *http.Request) {
	req, ok := readQuery(w, r)
	if !ok {
		return
	}
	sigs, err := h.Nimsuggest.Signatures(r.Context(), req.query(nsDomain.CommandDefinition))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"signatures": sigs})
}

// Usages lists project wide usages.
// POST /api/v1/usages
func (h *Handlers) Usages(w http.ResponseWriter, r *http.Request) {
	h.entries(w, r, h.Nimsuggest.Usages, nsDomain.CommandUsages)
}

// UsagesInFile lists the usages inside the requested file.
// POST /api/v1/usages/file
func (h *Handlers) UsagesInFile(w http.ResponseWriter, r *http.Request) {
	h.entries(w, r, h.Nimsuggest.UsagesInFile, nsDomain.CommandUsages)
}

// Suggestions lists completion candidates.
// POST /api/v1/suggestions
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	h.entries(w, r, h.Nimsuggest.Suggestions, nsDomain.CommandSuggestions)
}

type entriesFunc = func(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error)

func (h *Handlers) entries(w http.ResponseWriter, r *http.Request, fn entriesFunc, cmd nsDomain.Command) {
	req, ok := readQuery(w, r)
	if !ok {
		return
	}
	entries, err := fn(r.Context(), req.query(cmd))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

// CloseFile tells the daemon an editor closed a file.
// POST /api/v1/files/close
func (h *Handlers) CloseFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fileRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.File, "file") {
		return
	}
	if err := h.Nimsuggest.CloseFile(r.Context(), req.File); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions lists all project sessions.
// GET /api/v1/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Nimsuggest.Sessions())
}

// ResolveSession opens a file and returns the session serving it.
// POST /api/v1/sessions/resolve
func (h *Handlers) ResolveSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fileRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.File, "file") {
		return
	}
	info, err := h.Nimsuggest.Resolve(r.Context(), req.File)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// TerminateSession stops the session of a project root.
// DELETE /api/v1/sessions?root=
func (h *Handlers) TerminateSession(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if !requireField(w, root, "root") {
		return
	}
	if err := h.Nimsuggest.TerminateSession(r.Context(), root); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness, session counts and the event queue connection.
// A lost queue connection degrades the status but queries keep working.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	type healthStatus struct {
		Status    string `json:"status"`
		Sessions  int    `json:"sessions"`
		WSClients int    `json:"ws_clients"`
		NATS      string `json:"nats,omitempty"`
	}
	status := healthStatus{Status: "ok", Sessions: len(h.Nimsuggest.Sessions())}
	if h.Hub != nil {
		status.WSClients = h.Hub.ConnectionCount()
	}
	if h.Events != nil {
		status.NATS = "connected"
		if !h.Events.IsConnected() {
			status.NATS = "disconnected"
			status.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, status)
}
