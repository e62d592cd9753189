package nimsuggest

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

// minFields is the number of tab-separated fields every answer line carries:
// section, kind, symbol, signature, file, line, column.
const minFields = 7

// Encode renders q as one request line (without the trailing newline):
//
//	verb file[;dirtyFile]:line:column
//
// Paths containing spaces are double-quoted. Paths that cannot be expressed
// on the wire are rejected with ErrInvalidQuery.
func Encode(q *nsDomain.Query, dirtyFile string) (string, error) {
	if !q.Command.Valid() {
		return "", fmt.Errorf("%w: unknown command %q", nsDomain.ErrInvalidQuery, q.Command)
	}
	if q.Line < 1 || q.Column < 1 {
		return "", fmt.Errorf("%w: position %d:%d must be 1-based", nsDomain.ErrInvalidQuery, q.Line, q.Column)
	}

	file, err := wirePath(q.File)
	if err != nil {
		return "", err
	}
	if dirtyFile != "" {
		dirty, err := wirePath(dirtyFile)
		if err != nil {
			return "", err
		}
		file += ";" + dirty
	}

	return fmt.Sprintf("%s %s:%d:%d", q.Command, file, q.Line, q.Column), nil
}

func wirePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty file path", nsDomain.ErrInvalidQuery)
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: path %q is not absolute", nsDomain.ErrInvalidQuery, p)
	}
	if strings.ContainsAny(p, ";\"\t\r\n") {
		return "", fmt.Errorf("%w: path %q contains a reserved character", nsDomain.ErrInvalidQuery, p)
	}
	if strings.ContainsRune(p, ' ') {
		return `"` + p + `"`, nil
	}
	return p, nil
}

// Decode turns raw response lines into entries, in emission order.
// Malformed lines are skipped and reported as warnings; blank lines are
// ignored. No lines at all is a valid empty result.
func Decode(lines []string) nsDomain.Result {
	res := nsDomain.Result{Entries: make([]nsDomain.Entry, 0, len(lines))}

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, reason := decodeLine(line)
		if reason != "" {
			res.Warnings = append(res.Warnings, nsDomain.DecodeWarning{Line: i + 1, Text: line, Reason: reason})
			continue
		}
		res.Entries = append(res.Entries, entry)
	}

	return res
}

func decodeLine(line string) (nsDomain.Entry, string) {
	f := strings.Split(line, "\t")
	if len(f) < minFields {
		return nsDomain.Entry{}, fmt.Sprintf("expected at least %d tab-separated fields, got %d", minFields, len(f))
	}

	lineNo, err := strconv.Atoi(f[5])
	if err != nil {
		return nsDomain.Entry{}, fmt.Sprintf("invalid line number %q", f[5])
	}
	col, err := strconv.Atoi(f[6])
	if err != nil {
		return nsDomain.Entry{}, fmt.Sprintf("invalid column %q", f[6])
	}

	e := nsDomain.Entry{
		Section:   f[0],
		Kind:      f[1],
		Symbol:    f[2],
		Signature: f[3],
		File:      f[4],
		Line:      lineNo,
		Column:    col,
	}
	if len(f) > 7 {
		e.Doc = unquoteDoc(f[7])
	}
	// quality and prefix only exist in protocol v2+; tolerate junk there
	if len(f) > 8 {
		e.Quality, _ = strconv.Atoi(f[8])
	}
	if len(f) > 9 {
		e.Prefix, _ = strconv.Atoi(f[9])
	}
	return e, ""
}

func unquoteDoc(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// EncodeEntry renders e in the analyzer's answer format. Decode(EncodeEntry(e))
// reproduces e for entries whose text fields contain no tabs or newlines.
func EncodeEntry(e *nsDomain.Entry) string {
	fields := []string{
		e.Section,
		e.Kind,
		e.Symbol,
		e.Signature,
		e.File,
		strconv.Itoa(e.Line),
		strconv.Itoa(e.Column),
		strconv.Quote(e.Doc),
	}
	if e.Quality != 0 || e.Prefix != 0 {
		fields = append(fields, strconv.Itoa(e.Quality), strconv.Itoa(e.Prefix))
	}
	return strings.Join(fields, "\t")
}
