package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Prettier formats source text by piping it through an external prettier
// executable.
type Prettier struct {
	Path    string
	Parser  string // e.g. "babel", "html"
	Timeout time.Duration
}

// LookupPrettier returns the path of the prettier executable on PATH.
func LookupPrettier() (string, error) {
	path, err := exec.LookPath("prettier")
	if err != nil {
		return "", fmt.Errorf("prettier was not found in your PATH: %w", err)
	}
	return path, nil
}

// prettier reports syntax errors as "... (line:column)".
var prettierPosRegex = regexp.MustCompile(`\((\d+):\d+\)`)

func (p *Prettier) Format(ctx context.Context, src string) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	parser := p.Parser
	if parser == "" {
		parser = "babel"
	}

	started := time.Now()
	cmd := exec.CommandContext(ctx, p.Path, "--parser", parser)
	cmd.Stdin = strings.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		line := 0
		if m := prettierPosRegex.FindStringSubmatch(stderr.String()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &Error{
			Formatter: "prettier",
			Line:      line,
			Snippet:   Snippet(src, line),
			Err:       errors.New(firstLine(msg)),
		}
	}

	log.Debug().Dur("elapsed", time.Since(started)).Str("parser", parser).Msg("Formatted with prettier")
	return stdout.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
