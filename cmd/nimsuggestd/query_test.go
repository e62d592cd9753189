package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

func TestParsePosition(t *testing.T) {
	abs := func(p string) string {
		a, err := filepath.Abs(p)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}

	tests := []struct {
		in      string
		file    string
		line    int
		col     int
		wantErr bool
	}{
		{in: "/p/app.nim:12:7", file: "/p/app.nim", line: 12, col: 7},
		{in: "src/app.nim:1:0", file: abs("src/app.nim"), line: 1, col: 0},
		{in: "/p/we:ird.nim:3:4", file: "/p/we:ird.nim", line: 3, col: 4},
		{in: "/p/app.nim:12", wantErr: true},
		{in: "/p/app.nim", wantErr: true},
		{in: ":1:2", wantErr: true},
		{in: "/p/app.nim:0:1", wantErr: true},
		{in: "/p/app.nim:x:1", wantErr: true},
		{in: "/p/app.nim:1:-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := parsePosition(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", q)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePosition: %v", err)
			}
			if q.File != tt.file || q.Line != tt.line || q.Column != tt.col {
				t.Errorf("got %s:%d:%d, want %s:%d:%d", q.File, q.Line, q.Column, tt.file, tt.line, tt.col)
			}
		})
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in     string
		index  int
		wantOK bool
	}{
		{"1", 0, true},
		{" 3 ", 2, true},
		{"", -1, true},
		{"   ", -1, true},
		{"0", 0, false},
		{"4", 0, false},
		{"two", 0, false},
	}
	for _, tt := range tests {
		i, ok := parseChoice(tt.in, 3)
		if ok != tt.wantOK || (ok && i != tt.index) {
			t.Errorf("parseChoice(%q) = %d, %v; want %d, %v", tt.in, i, ok, tt.index, tt.wantOK)
		}
	}
}

func TestChoiceLabel(t *testing.T) {
	e := nsDomain.Entry{Symbol: "app.run", Signature: "proc (x: int)", File: "/p/app.nim", Line: 4}
	if got, want := choiceLabel(&e), "app.run  proc (x: int)  (/p/app.nim:4)"; got != want {
		t.Errorf("choiceLabel = %q, want %q", got, want)
	}
	e.Signature = ""
	if got, want := choiceLabel(&e), "app.run  (/p/app.nim:4)"; got != want {
		t.Errorf("choiceLabel = %q, want %q", got, want)
	}
}

func TestPrintEntries(t *testing.T) {
	entries := []nsDomain.Entry{
		{Kind: "skProc", Symbol: "app.run", Signature: "proc ()", File: "/p/app.nim", Line: 3, Column: 5},
	}

	var buf bytes.Buffer
	if err := printEntries(&buf, entries); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "/p/app.nim:3:5") || !strings.Contains(buf.String(), "app.run") {
		t.Errorf("unexpected table output %q", buf.String())
	}

	buf.Reset()
	if err := printEntries(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No results.\n" {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	queryJSON = true
	t.Cleanup(func() { queryJSON = false })
	buf.Reset()
	if err := printEntries(&buf, nil); err != nil {
		t.Fatal(err)
	}
	var got []nsDomain.Entry
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got == nil || len(got) != 0 {
		t.Errorf("expected empty JSON array, got %q (%v)", buf.String(), err)
	}
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	if err := printSessions(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No sessions.\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	infos := []nsDomain.SessionInfo{{Root: "/p/app.nim", State: nsDomain.SessionReady, PID: 42, OpenFiles: 2}}
	if err := printSessions(&buf, infos); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "ROOT") || !strings.Contains(out, "/p/app.nim") || !strings.Contains(out, "ready") {
		t.Errorf("unexpected table %q", out)
	}
}
