// Package format turns generated script text into its canonical layout.
package format

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrFormat = errors.New("format failed")

// Formatter canonicalizes source text. Two inputs that differ only in
// layout must produce byte-identical output.
type Formatter interface {
	Format(ctx context.Context, src string) (string, error)
}

// Error is returned when a formatter rejects its input.
type Error struct {
	Formatter string
	// Line is the 1-based line of the problem, or 0 if unknown.
	Line    int
	Snippet string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Formatter, e.Err)
	if e.Line > 0 {
		msg = fmt.Sprintf("%s: line %d: %v", e.Formatter, e.Line, e.Err)
	}
	if e.Snippet != "" {
		msg += "\n" + e.Snippet
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrFormat
}

const snippetContext = 3

// Snippet returns the lines of src around line (1-based), numbered, with the
// offending line marked. For line <= 0 the first lines of src are returned.
func Snippet(src string, line int) string {
	lines := strings.Split(src, "\n")
	from, to := 0, min(len(lines), 2*snippetContext+1)
	if line > 0 {
		from = max(0, line-1-snippetContext)
		to = min(len(lines), line+snippetContext)
	}
	var b strings.Builder
	for i := from; i < to; i++ {
		marker := "  "
		if i == line-1 {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%4d | %s\n", marker, i+1, lines[i])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
