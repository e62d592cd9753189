package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	nsotel "github.com/nimlime/nimsuggestd/internal/adapter/otel"
	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/logger"
)

// MsgNoDefinition is shown when a definition lookup has no answer.
const MsgNoDefinition = "No definition found in project files."

// Chooser lets an interactive client pick one of several entries. ok is
// false when the user dismissed the choice.
type Chooser interface {
	Choose(ctx context.Context, title string, entries []nsDomain.Entry) (index int, ok bool, err error)
}

// NimsuggestService is the entry point for clients: it routes queries to
// project sessions and implements the navigation features on top of them.
type NimsuggestService struct {
	router   *Router
	features *config.Features
}

// NewNimsuggestService creates the service.
func NewNimsuggestService(router *Router, features *config.Features) *NimsuggestService {
	return &NimsuggestService{router: router, features: features}
}

// Submit routes q to its project session and enqueues it without waiting.
func (s *NimsuggestService) Submit(ctx context.Context, q *nsDomain.Query, cb Callback) (*Pending, error) {
	ctx, span := nsotel.StartResolveSpan(ctx, q.File)
	defer span.End()

	sess, err := s.router.Resolve(ctx, q.File)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("session.root", sess.Root()))
	return sess.Submit(q, cb), nil
}

// Query runs q and waits for its result.
func (s *NimsuggestService) Query(ctx context.Context, q *nsDomain.Query) (*nsDomain.Result, error) {
	p, err := s.Submit(ctx, q, nil)
	if err != nil {
		return nil, err
	}

	ctx, span := nsotel.StartQuerySpan(ctx, p.ID(), string(q.Command), q.File)
	defer span.End()
	ctx = logger.WithQueryID(ctx, p.ID())

	res, err := p.Wait(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("query failed", "query_id", logger.QueryID(ctx), "command", q.Command, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.entries", len(res.Entries)))
	return res, nil
}

func (s *NimsuggestService) run(ctx context.Context, cmd nsDomain.Command, q *nsDomain.Query) ([]nsDomain.Entry, error) {
	cq := *q
	cq.Command = cmd
	res, err := s.Query(ctx, &cq)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Definition returns the definition to navigate to. With several candidates
// the chooser is asked when asking is enabled and a chooser is available;
// otherwise the first candidate wins. A nil entry with a nil error means
// nothing was found or the choice was dismissed.
func (s *NimsuggestService) Definition(ctx context.Context, q *nsDomain.Query, chooser Chooser) (*nsDomain.Entry, error) {
	entries, err := s.run(ctx, nsDomain.CommandDefinition, q)
	if err != nil {
		return nil, err
	}
	switch {
	case len(entries) == 0:
		return nil, nil
	case len(entries) == 1 || chooser == nil || !s.features.AskOnMultipleResults:
		return &entries[0], nil
	}

	i, ok, err := chooser.Choose(ctx, "Go to definition", entries)
	if err != nil {
		return nil, fmt.Errorf("choose definition: %w", err)
	}
	if !ok || i < 0 || i >= len(entries) {
		return nil, nil
	}
	return &entries[i], nil
}

// Signatures returns the type signatures of the definitions at q.
func (s *NimsuggestService) Signatures(ctx context.Context, q *nsDomain.Query) ([]string, error) {
	entries, err := s.run(ctx, nsDomain.CommandDefinition, q)
	if err != nil {
		return nil, err
	}
	sigs := make([]string, 0, len(entries))
	for i := range entries {
		sigs = append(sigs, entries[i].Signature)
	}
	return sigs, nil
}

// Usages returns every usage of the symbol at q across the project.
func (s *NimsuggestService) Usages(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error) {
	return s.run(ctx, nsDomain.CommandUsages, q)
}

// UsagesInFile returns the usages of the symbol at q located in q.File.
func (s *NimsuggestService) UsagesInFile(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error) {
	entries, err := s.run(ctx, nsDomain.CommandUsages, q)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if sameFile(e.File, q.File) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Suggestions returns completion candidates at q.
func (s *NimsuggestService) Suggestions(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error) {
	return s.run(ctx, nsDomain.CommandSuggestions, q)
}

// Resolve maps file to its session, creating it if needed.
func (s *NimsuggestService) Resolve(ctx context.Context, file string) (nsDomain.SessionInfo, error) {
	sess, err := s.router.Resolve(ctx, file)
	if err != nil {
		return nsDomain.SessionInfo{}, err
	}
	return sess.Info(), nil
}

// CloseFile tells the service an editor closed file.
func (s *NimsuggestService) CloseFile(ctx context.Context, file string) error {
	return s.router.CloseFile(ctx, file)
}

// Sessions lists all sessions.
func (s *NimsuggestService) Sessions() []nsDomain.SessionInfo {
	return s.router.Sessions()
}

// TerminateSession stops the session for root.
func (s *NimsuggestService) TerminateSession(ctx context.Context, root string) error {
	return s.router.Terminate(ctx, root)
}

// Shutdown stops every session.
func (s *NimsuggestService) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

// sameFile compares by file identity, falling back to cleaned paths when
// either file cannot be stat'ed.
func sameFile(a, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
