package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/service"
)

// termChooser asks the user on the controlling terminal to pick one entry.
type termChooser struct {
	in  *os.File
	out io.Writer
}

var _ service.Chooser = (*termChooser)(nil)

func newTermChooser(in *os.File, out io.Writer) *termChooser {
	return &termChooser{in: in, out: out}
}

// Choose lists entries and reads a 1-based number. An empty line or Ctrl-D
// dismisses the choice.
func (c *termChooser) Choose(_ context.Context, title string, entries []nsDomain.Entry) (int, bool, error) {
	fmt.Fprintf(c.out, "%s:\n", title)
	for i := range entries {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, choiceLabel(&entries[i]))
	}

	fd := int(c.in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return 0, false, fmt.Errorf("raw terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{c.in, c.out}, fmt.Sprintf("[1-%d]> ", len(entries)))
	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("read choice: %w", err)
		}
		i, ok := parseChoice(line, len(entries))
		if !ok {
			fmt.Fprintf(t, "enter a number between 1 and %d\n", len(entries))
			continue
		}
		return i, i >= 0, nil
	}
}

// parseChoice maps user input to a 0-based index. Blank input yields -1;
// ok is false for anything that is neither blank nor in range.
func parseChoice(line string, n int) (index int, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return -1, true
	}
	i, err := strconv.Atoi(line)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

// choiceLabel renders an entry as "module.name  signature  (file:line)".
func choiceLabel(e *nsDomain.Entry) string {
	var b strings.Builder
	b.WriteString(e.Symbol)
	if e.Signature != "" {
		b.WriteString("  ")
		b.WriteString(e.Signature)
	}
	fmt.Fprintf(&b, "  (%s:%d)", e.File, e.Line)
	return b.String()
}
