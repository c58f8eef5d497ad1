package format

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Builtin lays out JavaScript without external tools. It re-indents every
// line by bracket depth, puts single spaces between tokens the way prettier
// does, strips trailing whitespace, collapses runs of blank lines and drops
// blank lines at block boundaries. Strings, template literals, regular
// expressions and comments are kept verbatim and their brackets do not
// count.
//
// Line breaks are kept where they are: unlike prettier it does not wrap or
// join lines, quote keys or add parentheses. Unbalanced or mismatched
// brackets and unterminated literals are reported as *Error.
type Builtin struct {
	// IndentWidth is the number of spaces per nesting level (default 2).
	IndentWidth int
}

func (b Builtin) Format(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	width := b.IndentWidth
	if width <= 0 {
		width = 2
	}
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")

	s := &jsScanner{}
	out := make([]string, 0, len(lines))
	pendingBlank := false
	prevOpens := true // suppresses leading blank lines

	for i, line := range lines {
		lineNo := i + 1
		startMode := s.mode

		if startMode == modeTemplate {
			out = append(out, line)
			if err := s.scanLine(line, lineNo); err != nil {
				return "", b.fail(src, err)
			}
			prevOpens = false
			continue
		}

		trimmed := strings.TrimSpace(line)
		if startMode == modeBlockComment {
			switch {
			case trimmed == "":
				out = append(out, "")
			case strings.HasPrefix(trimmed, "*"):
				out = append(out, strings.Repeat(" ", s.depth()*width+1)+trimmed)
			default:
				out = append(out, strings.Repeat(" ", s.depth()*width)+trimmed)
			}
			if err := s.scanLine(trimmed, lineNo); err != nil {
				return "", b.fail(src, err)
			}
			prevOpens = false
			continue
		}

		if trimmed == "" {
			pendingBlank = true
			continue
		}
		if startMode == modeCode {
			trimmed = normalizeSpacing(trimmed)
		}

		closers := leadingClosers(trimmed)
		if pendingBlank && !prevOpens && closers == 0 {
			out = append(out, "")
		}
		pendingBlank = false

		depth := max(0, s.depth()-closers)
		out = append(out, strings.Repeat(" ", depth*width)+trimmed)
		if err := s.scanLine(trimmed, lineNo); err != nil {
			return "", b.fail(src, err)
		}
		last := trimmed[len(trimmed)-1]
		prevOpens = last == '{' || last == '(' || last == '['
	}

	if err := s.finish(); err != nil {
		return "", b.fail(src, err)
	}
	return strings.Join(out, "\n") + "\n", nil
}

func (b Builtin) fail(src string, err error) error {
	var se *syntaxError
	if errors.As(err, &se) {
		return &Error{
			Formatter: "builtin",
			Line:      se.line,
			Snippet:   Snippet(src, se.line),
			Err:       errors.New(se.msg),
		}
	}
	return &Error{Formatter: "builtin", Snippet: Snippet(src, 0), Err: err}
}

func leadingClosers(s string) int {
	n := 0
	for n < len(s) && strings.IndexByte(")]}", s[n]) >= 0 {
		n++
	}
	return n
}

type scanMode int

const (
	modeCode scanMode = iota
	modeSingle
	modeDouble
	modeTemplate
	modeRegex
	modeBlockComment
)

type opener struct {
	char byte // one of "([{", or 'T' for a template literal ${ placeholder
	line int
}

type syntaxError struct {
	line int
	msg  string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

// jsScanner tracks just enough JavaScript lexical state to count brackets.
type jsScanner struct {
	mode     scanMode
	stack    []opener
	prev     byte // last significant character in code mode
	word     []byte
	inClass  bool // inside [...] of a regex literal
	lastLine int
	modeLine int // line where the current non-code mode started
}

func (s *jsScanner) depth() int {
	return len(s.stack)
}

var matching = map[byte]byte{')': '(', ']': '[', '}': '{'}

// keywords after which a slash starts a regular expression.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "instanceof": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true,
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (s *jsScanner) regexAllowed() bool {
	if s.prev == 0 || strings.IndexByte("(,=:[!&|?{};+-*%<>~^", s.prev) >= 0 {
		return true
	}
	return isIdentChar(s.prev) && regexKeywords[string(s.word)]
}

func (s *jsScanner) enter(m scanMode, line int) {
	s.mode = m
	s.modeLine = line
}

func (s *jsScanner) scanLine(line string, lineNo int) error {
	s.lastLine = lineNo
	escapedNewline := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		var next byte
		if i+1 < len(line) {
			next = line[i+1]
		}
		switch s.mode {
		case modeBlockComment:
			if c == '*' && next == '/' {
				s.mode = modeCode
				i++
			}
		case modeSingle, modeDouble:
			if c == '\\' {
				if i+1 == len(line) {
					escapedNewline = true
				}
				i++
				continue
			}
			if (c == '\'' && s.mode == modeSingle) || (c == '"' && s.mode == modeDouble) {
				s.mode = modeCode
				s.prev = c
			}
		case modeTemplate:
			switch {
			case c == '\\':
				i++
			case c == '`':
				s.mode = modeCode
				s.prev = c
			case c == '$' && next == '{':
				s.stack = append(s.stack, opener{char: 'T', line: lineNo})
				s.mode = modeCode
				s.prev = '{'
				i++
			}
		case modeRegex:
			switch {
			case c == '\\':
				i++
			case s.inClass:
				if c == ']' {
					s.inClass = false
				}
			case c == '[':
				s.inClass = true
			case c == '/':
				s.mode = modeCode
				s.prev = 'a'
				s.word = s.word[:0]
			}
		case modeCode:
			if c == ' ' || c == '\t' {
				continue
			}
			switch {
			case c == '/' && next == '/':
				return nil
			case c == '/' && next == '*':
				s.enter(modeBlockComment, lineNo)
				i++
				continue
			case c == '/':
				if s.regexAllowed() {
					s.enter(modeRegex, lineNo)
					s.inClass = false
					continue
				}
			case c == '\'':
				s.enter(modeSingle, lineNo)
				continue
			case c == '"':
				s.enter(modeDouble, lineNo)
				continue
			case c == '`':
				s.enter(modeTemplate, lineNo)
				continue
			case c == '(' || c == '[' || c == '{':
				s.stack = append(s.stack, opener{char: c, line: lineNo})
			case c == ')' || c == ']' || c == '}':
				if len(s.stack) == 0 {
					return &syntaxError{line: lineNo, msg: fmt.Sprintf("unexpected %q", c)}
				}
				top := s.stack[len(s.stack)-1]
				s.stack = s.stack[:len(s.stack)-1]
				if top.char == 'T' {
					if c != '}' {
						return &syntaxError{line: lineNo, msg: fmt.Sprintf("unexpected %q in template placeholder", c)}
					}
					s.enter(modeTemplate, lineNo)
					continue
				}
				if matching[c] != top.char {
					return &syntaxError{line: lineNo, msg: fmt.Sprintf("%q does not match %q opened on line %d", c, top.char, top.line)}
				}
			}
			if isIdentChar(c) {
				if !isIdentChar(s.prev) {
					s.word = s.word[:0]
				}
				s.word = append(s.word, c)
			}
			s.prev = c
		}
	}

	switch s.mode {
	case modeSingle, modeDouble:
		if !escapedNewline {
			return &syntaxError{line: lineNo, msg: "unterminated string literal"}
		}
	case modeRegex:
		return &syntaxError{line: lineNo, msg: "unterminated regular expression"}
	}
	return nil
}

func (s *jsScanner) finish() error {
	switch s.mode {
	case modeTemplate:
		return &syntaxError{line: s.modeLine, msg: "unterminated template literal"}
	case modeBlockComment:
		return &syntaxError{line: s.modeLine, msg: "unterminated comment"}
	case modeSingle, modeDouble:
		return &syntaxError{line: s.modeLine, msg: "unterminated string literal"}
	}
	if len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		if top.char == 'T' {
			return &syntaxError{line: top.line, msg: "unclosed template placeholder"}
		}
		return &syntaxError{line: top.line, msg: fmt.Sprintf("unclosed %q", top.char)}
	}
	return nil
}
