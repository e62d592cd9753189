package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	nsAdapter "github.com/nimlime/nimsuggestd/internal/adapter/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

type scriptedChooser struct {
	index int
	ok    bool
	err   error
	calls int
	title string
	seen  []nsDomain.Entry
}

func (c *scriptedChooser) Choose(_ context.Context, title string, entries []nsDomain.Entry) (int, bool, error) {
	c.calls++
	c.title = title
	c.seen = entries
	return c.index, c.ok, c.err
}

// entriesResponder answers def/use with the given symbols located in the
// requested file, and sug with nothing.
func entriesResponder(files map[string][]string) respondFunc {
	return func(_, _ int, line string) ([]string, error) {
		verb, _, _ := strings.Cut(line, " ")
		var out []string
		for file, symbols := range files {
			for i, sym := range symbols {
				out = append(out, nsAdapter.EncodeEntry(&nsDomain.Entry{
					Section: verb, Kind: "skProc", Symbol: sym, Signature: "proc " + sym,
					File: file, Line: i + 1, Column: 1,
				}))
			}
		}
		return out, nil
	}
}

// newTestService creates a service over a project holding main.nim. respond
// receives the path of main.nim; nil echoes every request.
func newTestService(t *testing.T, respond func(file string) respondFunc, ask bool) (*NimsuggestService, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.nimble"))
	file := filepath.Join(dir, "main.nim")
	writeFile(t, file)

	var fn respondFunc
	if respond != nil {
		fn = respond(file)
	}
	r := NewRouter(testSessionConfig(t), NewRootFinder(testRouterConfig(), nil), newFakeLauncher(fn), nil)
	svc := NewNimsuggestService(r, &config.Features{AskOnMultipleResults: ask})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, file
}

func pos(file string) *nsDomain.Query {
	return &nsDomain.Query{File: file, Line: 1, Column: 1}
}

func TestDefinitionSingle(t *testing.T) {
	svc, file := newTestService(t, nil, true)
	chooser := &scriptedChooser{}

	e, err := svc.Definition(context.Background(), pos(file), chooser)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.File != file {
		t.Fatalf("unexpected entry %+v", e)
	}
	if chooser.calls != 0 {
		t.Fatal("a single definition must not ask")
	}
}

func TestDefinitionNone(t *testing.T) {
	svc, file := newTestService(t, func(string) respondFunc { return entriesResponder(nil) }, true)

	e, err := svc.Definition(context.Background(), pos(file), &scriptedChooser{})
	if err != nil || e != nil {
		t.Fatalf("expected no definition, got %+v, %v", e, err)
	}
}

func TestDefinitionMultiple(t *testing.T) {
	respond := func(file string) respondFunc {
		return entriesResponder(map[string][]string{file: {"app.a", "app.b", "app.c"}})
	}

	t.Run("asks and takes the pick", func(t *testing.T) {
		svc, file := newTestService(t, respond, true)
		chooser := &scriptedChooser{index: 2, ok: true}

		e, err := svc.Definition(context.Background(), pos(file), chooser)
		if err != nil {
			t.Fatal(err)
		}
		if chooser.calls != 1 || len(chooser.seen) != 3 {
			t.Fatalf("chooser called %d times with %d entries", chooser.calls, len(chooser.seen))
		}
		if e == nil || e.Symbol != "app.c" {
			t.Fatalf("expected the picked entry, got %+v", e)
		}
	})

	t.Run("dismissed", func(t *testing.T) {
		svc, file := newTestService(t, respond, true)

		e, err := svc.Definition(context.Background(), pos(file), &scriptedChooser{ok: false})
		if err != nil || e != nil {
			t.Fatalf("dismissed pick should yield nothing, got %+v, %v", e, err)
		}
	})

	t.Run("out of range pick", func(t *testing.T) {
		svc, file := newTestService(t, respond, true)

		e, err := svc.Definition(context.Background(), pos(file), &scriptedChooser{index: 7, ok: true})
		if err != nil || e != nil {
			t.Fatalf("invalid pick should yield nothing, got %+v, %v", e, err)
		}
	})

	t.Run("chooser error", func(t *testing.T) {
		svc, file := newTestService(t, respond, true)
		boom := errors.New("terminal gone")

		_, err := svc.Definition(context.Background(), pos(file), &scriptedChooser{err: boom})
		if !errors.Is(err, boom) {
			t.Fatalf("expected chooser error, got %v", err)
		}
	})

	t.Run("asking disabled takes the first", func(t *testing.T) {
		svc, file := newTestService(t, respond, false)
		chooser := &scriptedChooser{index: 2, ok: true}

		e, err := svc.Definition(context.Background(), pos(file), chooser)
		if err != nil {
			t.Fatal(err)
		}
		if chooser.calls != 0 || e == nil || e.Symbol != "app.a" {
			t.Fatalf("expected the first entry without asking, got %+v (calls %d)", e, chooser.calls)
		}
	})

	t.Run("no chooser takes the first", func(t *testing.T) {
		svc, file := newTestService(t, respond, true)

		e, err := svc.Definition(context.Background(), pos(file), nil)
		if err != nil || e == nil || e.Symbol != "app.a" {
			t.Fatalf("expected the first entry, got %+v, %v", e, err)
		}
	})
}

func TestSignatures(t *testing.T) {
	svc, file := newTestService(t, func(file string) respondFunc {
		return entriesResponder(map[string][]string{file: {"app.a", "app.b"}})
	}, true)

	sigs, err := svc.Signatures(context.Background(), pos(file))
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 || sigs[0] != "proc app.a" || sigs[1] != "proc app.b" {
		t.Fatalf("unexpected signatures %v", sigs)
	}
}

func TestUsagesInFile(t *testing.T) {
	svc, file := newTestService(t, func(file string) respondFunc {
		other := filepath.Join(filepath.Dir(file), "other.nim")
		writeFile(t, other)
		return entriesResponder(map[string][]string{
			file:  {"app.x", "app.x"},
			other: {"app.x"},
		})
	}, true)

	all, err := svc.Usages(context.Background(), pos(file))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 usages, got %d", len(all))
	}

	// A non-canonical spelling of the same file still matches.
	q := pos(filepath.Join(filepath.Dir(file), ".", "main.nim"))
	inFile, err := svc.UsagesInFile(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(inFile) != 2 {
		t.Fatalf("expected 2 usages in file, got %d", len(inFile))
	}
	for _, e := range inFile {
		if e.File != file {
			t.Errorf("usage in %s leaked through the filter", e.File)
		}
	}
}

func TestSuggestionsEmpty(t *testing.T) {
	svc, file := newTestService(t, func(string) respondFunc { return entriesResponder(nil) }, true)

	got, err := svc.Suggestions(context.Background(), pos(file))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected an empty non-nil list, got %#v", got)
	}
}

func TestQueryRoutesErrors(t *testing.T) {
	svc, _ := newTestService(t, nil, true)

	_, err := svc.Query(context.Background(), &nsDomain.Query{
		Command: nsDomain.CommandDefinition, File: "relative.nim", Line: 1, Column: 1,
	})
	if !errors.Is(err, nsDomain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestServiceSessions(t *testing.T) {
	svc, file := newTestService(t, nil, true)

	info, err := svc.Resolve(context.Background(), file)
	if err != nil {
		t.Fatal(err)
	}
	if info.Root != filepath.Dir(file) {
		t.Fatalf("root = %s", info.Root)
	}
	if len(svc.Sessions()) != 1 {
		t.Fatal("expected one session")
	}
	if err := svc.TerminateSession(context.Background(), info.Root); err != nil {
		t.Fatal(err)
	}
	if len(svc.Sessions()) != 0 {
		t.Fatal("expected no sessions after terminate")
	}
}
