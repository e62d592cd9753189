package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/service"
)

var (
	queryDirty string
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <command> <file:line:column>",
	Short: "Run one query against a project analyzer",
	Long: `Start the analyzer for the file's project, run one query and print the
answer. Commands:

  definition       jump target; asks when several definitions match
  signatures       type signatures of the symbol
  usages           usages across the project
  usages-in-file   usages inside the queried file
  suggestions      completion candidates
  <verb>           any raw analyzer verb (def, use, dus, sug, con, outline, known)

Examples:
  nimsuggestd query definition src/app.nim:12:7
  nimsuggestd query suggestions src/app.nim:30:4 --dirty - < buffer.nim
  nimsuggestd query use src/app.nim:12:7 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryDirty, "dirty", "", "Read unsaved buffer content from this file (\"-\" for stdin)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print entries as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := parsePosition(args[1])
	if err != nil {
		return err
	}
	if queryDirty != "" {
		if q.Dirty, err = readDirty(queryDirty); err != nil {
			return err
		}
		q.HasDirty = true
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	out := cmd.OutOrStdout()
	switch args[0] {
	case "definition":
		var chooser service.Chooser
		if queryDirty != "-" && term.IsTerminal(int(os.Stdin.Fd())) {
			chooser = newTermChooser(os.Stdin, cmd.ErrOrStderr())
		}
		e, err := a.svc.Definition(ctx, q, chooser)
		if err != nil {
			return err
		}
		if e == nil {
			fmt.Fprintln(out, service.MsgNoDefinition)
			return nil
		}
		return printEntries(out, []nsDomain.Entry{*e})
	case "signatures":
		sigs, err := a.svc.Signatures(ctx, q)
		if err != nil {
			return err
		}
		if queryJSON {
			return json.NewEncoder(out).Encode(sigs)
		}
		for _, s := range sigs {
			fmt.Fprintln(out, s)
		}
		return nil
	case "usages":
		entries, err := a.svc.Usages(ctx, q)
		return printResult(out, entries, err)
	case "usages-in-file":
		entries, err := a.svc.UsagesInFile(ctx, q)
		return printResult(out, entries, err)
	case "suggestions":
		entries, err := a.svc.Suggestions(ctx, q)
		return printResult(out, entries, err)
	}

	c, ok := nsDomain.ParseCommand(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	q.Command = c
	res, err := a.svc.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: line %d: %s\n", w.Line, w.Reason)
	}
	return printEntries(out, res.Entries)
}

// parsePosition splits "file:line:column" from the right so that paths
// containing colons survive. The file is made absolute.
func parsePosition(s string) (*nsDomain.Query, error) {
	rest, colStr, ok := cutLast(s, ':')
	if !ok {
		return nil, fmt.Errorf("position %q: want file:line:column", s)
	}
	file, lineStr, ok := cutLast(rest, ':')
	if !ok || file == "" {
		return nil, fmt.Errorf("position %q: want file:line:column", s)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return nil, fmt.Errorf("position %q: invalid line %q", s, lineStr)
	}
	col, err := strconv.Atoi(colStr)
	if err != nil || col < 0 {
		return nil, fmt.Errorf("position %q: invalid column %q", s, colStr)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("position %q: %w", s, err)
	}
	return &nsDomain.Query{Command: nsDomain.CommandDefinition, File: abs, Line: line, Column: col}, nil
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

func readDirty(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read dirty buffer: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dirty buffer: %w", err)
	}
	return data, nil
}

func printResult(w io.Writer, entries []nsDomain.Entry, err error) error {
	if err != nil {
		return err
	}
	return printEntries(w, entries)
}

func printEntries(w io.Writer, entries []nsDomain.Entry) error {
	if queryJSON {
		if entries == nil {
			entries = []nsDomain.Entry{}
		}
		return json.NewEncoder(w).Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range entries {
		e := &entries[i]
		fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\t%s\n", e.File, e.Line, e.Column, e.Kind, e.Symbol, e.Signature)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
