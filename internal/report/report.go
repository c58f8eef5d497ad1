// Package report compares generated artifacts with their remote copies and
// renders the differences.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sergi/go-diff/diffmatchpatch"
)

type Kind int

const (
	KindUnchanged Kind = iota
	KindAdded
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindRemoved:
		return "removed"
	}
	return "unchanged"
}

// prefix marks each line of a part in rendered diffs.
func (k Kind) prefix() string {
	switch k {
	case KindAdded:
		return "+"
	case KindRemoved:
		return "-"
	}
	return " "
}

// Part is a run of lines that is either common to both sides or only
// present on one of them.
type Part struct {
	Text string
	Kind Kind
}

// Result is the diff of one entity.
type Result struct {
	Entity string
	Parts  []Part
}

// Diff computes a line diff from remote (old) to local (new).
func Diff(local, remote string) []Part {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(remote, local)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	parts := make([]Part, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		var k Kind
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			k = KindAdded
		case diffmatchpatch.DiffDelete:
			k = KindRemoved
		default:
			k = KindUnchanged
		}
		parts = append(parts, Part{Text: d.Text, Kind: k})
	}
	return parts
}

// Unchanged reports whether parts contain no added or removed text.
func Unchanged(parts []Part) bool {
	for _, p := range parts {
		if p.Kind != KindUnchanged {
			return false
		}
	}
	return true
}

// prefixLines puts prefix in front of every line of text.
func prefixLines(text, prefix string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}

const (
	actionWidth = 60
	nameWidth   = 30
)

type palette struct {
	name, added, removed, unchanged, creating, updating func(a ...any) string
}

func newPalette(enabled bool) palette {
	sprint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		name:      sprint(color.FgCyan),
		added:     sprint(color.FgGreen),
		removed:   sprint(color.FgHiRed),
		unchanged: sprint(color.FgHiBlack),
		creating:  sprint(color.FgGreen),
		updating:  sprint(color.FgYellow),
	}
}

// Reporter prints diffs and deploy actions, colored if its writer is a terminal.
type Reporter struct {
	w      io.Writer
	colors palette
}

// NewReporter returns a reporter writing to w. Colors are used when w is a
// terminal and color.NoColor is unset, which honours NO_COLOR and TERM=dumb.
func NewReporter(w io.Writer) *Reporter {
	enabled := false
	if f, ok := w.(*os.File); ok && !color.NoColor {
		enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newReporter(w, enabled)
}

func newReporter(w io.Writer, colored bool) *Reporter {
	return &Reporter{w: w, colors: newPalette(colored)}
}

// Report prints the results that contain changes, under a single
// "[[ Changed <category> ]]" header, and returns the names of the
// entities whose results are unchanged, in order.
func (r *Reporter) Report(category string, results []Result) []string {
	var upToDate []string
	headerPrinted := false
	for _, res := range results {
		if Unchanged(res.Parts) {
			upToDate = append(upToDate, res.Entity)
			continue
		}
		if !headerPrinted {
			fmt.Fprintf(r.w, "[[ Changed %s ]]\n", category)
			headerPrinted = true
		}
		fmt.Fprintf(r.w, "- %s:\n", r.colors.name(res.Entity))
		fmt.Fprintln(r.w, strings.Repeat("-", utf8.RuneCountInString(res.Entity)+3))
		for _, p := range res.Parts {
			paint := r.colors.unchanged
			switch p.Kind {
			case KindAdded:
				paint = r.colors.added
			case KindRemoved:
				paint = r.colors.removed
			}
			text := p.Text
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			io.WriteString(r.w, paint(prefixLines(text, p.Kind.prefix())))
		}
	}
	return upToDate
}

// Action prints what a deploy is about to do with an entity, e.g.
// "Rule Add email exists ........ (updating)".
func (r *Reporter) Action(noun, name string, exists bool) {
	if utf8.RuneCountInString(name) > nameWidth {
		name = string([]rune(name)[:nameWidth-3]) + "..."
	}
	state, action, paint := "doesnt exist", "(creating)", r.colors.creating
	if exists {
		state, action, paint = "exists", "(updating)", r.colors.updating
	}
	// Pad by the visible length in characters, colors excluded.
	visible := utf8.RuneCountInString(noun) + utf8.RuneCountInString(name) + len(state) + 3
	dots := strings.Repeat(".", max(0, actionWidth-visible))
	fmt.Fprintf(r.w, "%s %s %s %s %s\n", noun, r.colors.name(name), state, dots, paint(action))
}

// Skip prints that an entity is left alone, e.g. because it is disabled.
func (r *Reporter) Skip(noun, name, reason string) {
	fmt.Fprintf(r.w, "%s %s skipped (%s)\n", noun, r.colors.name(name), reason)
}
