package format

import (
	"context"
	"strings"
)

// Text normalizes whitespace only: line endings, trailing blanks and runs
// of empty lines. It is used for templates whose markup must stay intact.
type Text struct{}

func (Text) Format(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src = strings.ReplaceAll(src, "\r\n", "\n")
	var out []string
	blank := false
	for line := range strings.SplitSeq(src, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n", nil
}
