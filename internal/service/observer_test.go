package service

import (
	"context"
	"sync"
	"testing"

	nsotel "github.com/nimlime/nimsuggestd/internal/adapter/otel"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/logger"
)

type published struct {
	eventType string
	queryID   string
	payload   any
}

type recordingBroadcaster struct {
	mu  sync.Mutex
	got []published
}

func (b *recordingBroadcaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, published{eventType, logger.QueryID(ctx), payload})
}

func TestEventObserverPublishes(t *testing.T) {
	metrics, err := nsotel.NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	a, b := &recordingBroadcaster{}, &recordingBroadcaster{}
	o := NewEventObserver(metrics, a, nil, b)

	o.SessionStateChanged(nsDomain.SessionStateEvent{Root: "/p/app.nim", State: nsDomain.SessionStarting, Reason: nsDomain.ReasonRespawn})
	o.QueryDone(nsDomain.QueryDoneEvent{ID: "q-7", Root: "/p/app.nim", Command: nsDomain.CommandUsages, Outcome: nsDomain.OutcomeOK, Warnings: 1})

	for _, rb := range []*recordingBroadcaster{a, b} {
		if len(rb.got) != 2 {
			t.Fatalf("expected 2 events, got %+v", rb.got)
		}
		if rb.got[0].eventType != nsDomain.EventSessionState || rb.got[0].queryID != "" {
			t.Errorf("unexpected state event %+v", rb.got[0])
		}
		done := rb.got[1]
		if done.eventType != nsDomain.EventQueryDone || done.queryID != "q-7" {
			t.Errorf("query done must carry its query id in the context, got %+v", done)
		}
	}
}

func TestQueryDoneEventCarriesQueryID(t *testing.T) {
	rb := &recordingBroadcaster{}
	s := NewSession("/projects/app/app.nim", testSessionConfig(t), newFakeLauncher(nil), NewEventObserver(nil, rb))
	t.Cleanup(func() { _ = s.Terminate(context.Background()) })

	q := query("/p/a.nim")
	q.ID = "q-42"
	if err := wait(t, s.Submit(q, nil)); err != nil {
		t.Fatal(err)
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, p := range rb.got {
		if p.eventType == nsDomain.EventQueryDone {
			if p.queryID != "q-42" {
				t.Fatalf("query id in context = %q, want q-42", p.queryID)
			}
			return
		}
	}
	t.Fatal("no query done event published")
}
