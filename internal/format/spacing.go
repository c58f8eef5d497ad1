package format

import (
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokLiteral
	tokPunct
	tokComment
)

type token struct {
	kind tokenKind
	text string
	// prefix marks unary operators and prefix ++/--.
	prefix bool
	// property marks words after "." such as the catch of promise.catch.
	property bool
}

func (t *token) keyword() bool {
	return t.kind == tokWord && !t.property && exprKeywords[t.text]
}

// Keywords after which an expression starts. They are followed by a space
// even before "(", "[" or a template literal.
var exprKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"with": true, "return": true, "typeof": true, "await": true, "yield": true,
	"function": true, "async": true, "in": true, "of": true, "instanceof": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "const": true, "let": true, "var": true,
	"extends": true, "export": true, "import": true, "from": true,
}

var punctuators = []string{
	">>>=", "...", "===", "!==", "**=", "<<=", ">>=", ">>>", "&&=", "||=", "??=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "**", "<<", ">>",
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordChar(c byte) bool {
	return isIdentChar(c) || c == '#' || c >= 0x80
}

// normalizeSpacing rewrites the spacing between the tokens of one line of
// code. Literals and comments are kept verbatim, and so is the rest of a
// line that ends inside a string, template literal, regular expression or
// block comment.
func normalizeSpacing(line string) string {
	toks := tokenizeLine(line)
	var b strings.Builder
	var prev *token
	ternaries := 0
	afterComment := false
	for i := range toks {
		t := &toks[i]
		switch {
		case t.kind == tokPunct:
			classify(t, prev)
		case t.kind == tokWord && prev != nil:
			t.property = isPunct(prev, ".", "?.")
		}
		if afterComment || (prev != nil && needsSpace(prev, t, ternaries)) {
			b.WriteByte(' ')
		}
		afterComment = t.kind == tokComment
		b.WriteString(t.text)
		switch {
		case t.kind == tokPunct && t.text == "?":
			ternaries++
		case t.kind == tokPunct && t.text == ":" && ternaries > 0:
			ternaries--
		}
		if t.kind != tokComment {
			prev = t
		}
	}
	return b.String()
}

// operand reports whether t ends an operand, so that a following + or -
// is binary.
func operand(t *token) bool {
	switch {
	case t == nil:
		return false
	case t.kind == tokWord:
		return !t.keyword()
	case t.kind == tokLiteral:
		return true
	case t.kind == tokPunct:
		return t.text == ")" || t.text == "]" || ((t.text == "++" || t.text == "--") && !t.prefix)
	}
	return false
}

func classify(t, prev *token) {
	switch t.text {
	case "!", "~", "...":
		t.prefix = true
	case "+", "-", "++", "--":
		t.prefix = !operand(prev)
	}
}

func isPunct(t *token, texts ...string) bool {
	if t.kind != tokPunct {
		return false
	}
	for _, s := range texts {
		if t.text == s {
			return true
		}
	}
	return false
}

func needsSpace(prev, next *token, ternaries int) bool {
	switch {
	case next.kind == tokComment:
		return true
	case isPunct(next, ",", ";", ")", "]"):
		return false
	case isPunct(prev, ";"):
		return true
	case isPunct(next, ".", "?."):
		// "1 .toString()" must not become a decimal point.
		return prev.kind == tokWord && allDigits(prev.text)
	case isPunct(prev, "(", "[", ".", "?."):
		return false
	case prev.kind == tokPunct && prev.prefix:
		last := prev.text[len(prev.text)-1]
		return (last == '+' || last == '-') && next.text[0] == last
	case isPunct(next, "++", "--") && !next.prefix:
		return false
	case isPunct(next, "*") && prev.kind == tokWord && (prev.text == "function" || prev.text == "yield"):
		return false
	case isPunct(next, "(", "["):
		if prev.kind == tokWord {
			return prev.keyword()
		}
		return prev.kind == tokPunct && !isPunct(prev, ")", "]", "}")
	case isPunct(next, ":"):
		return ternaries > 0
	case isPunct(next, "}"):
		return !isPunct(prev, "{")
	case next.kind == tokLiteral && next.text[0] == '`' && prev.kind == tokWord:
		return prev.keyword()
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

// regexAfter reports whether a slash following toks starts a regular
// expression, using the same rule as jsScanner.
func regexAfter(toks []token) bool {
	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		switch t.kind {
		case tokComment:
			continue
		case tokWord:
			return regexKeywords[t.text]
		case tokLiteral:
			return false
		}
		return !isPunct(&t, ")", "]") && !(isPunct(&t, "++", "--"))
	}
	return true
}

func tokenizeLine(line string) []token {
	var toks []token
	rest := func(i int) []token {
		return append(toks, token{kind: tokLiteral, text: line[i:]})
	}
	for i := 0; i < len(line); {
		c := line[i]
		var next byte
		if i+1 < len(line) {
			next = line[i+1]
		}
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '/' && next == '/':
			return append(toks, token{kind: tokComment, text: line[i:]})
		case c == '/' && next == '*':
			end := strings.Index(line[i+2:], "*/")
			if end < 0 {
				return append(toks, token{kind: tokComment, text: line[i:]})
			}
			j := i + 2 + end + 2
			toks = append(toks, token{kind: tokComment, text: line[i:j]})
			i = j
		case c == '\'' || c == '"':
			j, ok := scanQuoted(line, i)
			if !ok {
				return rest(i)
			}
			toks = append(toks, token{kind: tokLiteral, text: line[i:j]})
			i = j
		case c == '`':
			j, ok := scanTemplate(line, i)
			if !ok {
				return rest(i)
			}
			toks = append(toks, token{kind: tokLiteral, text: line[i:j]})
			i = j
		case c == '/' && regexAfter(toks):
			j, ok := scanRegex(line, i)
			if !ok {
				return rest(i)
			}
			toks = append(toks, token{kind: tokLiteral, text: line[i:j]})
			i = j
		case isWordChar(c) || (c == '.' && isDigit(next)):
			j := scanWord(line, i)
			toks = append(toks, token{kind: tokWord, text: line[i:j]})
			i = j
		default:
			p := string(c)
			for _, cand := range punctuators {
				if strings.HasPrefix(line[i:], cand) {
					p = cand
					break
				}
			}
			// "a?.5:b" is a conditional, not optional chaining.
			if p == "?." && i+2 < len(line) && isDigit(line[i+2]) {
				p = "?"
			}
			toks = append(toks, token{kind: tokPunct, text: p})
			i += len(p)
		}
	}
	return toks
}

func scanQuoted(line string, i int) (int, bool) {
	quote := line[i]
	for j := i + 1; j < len(line); j++ {
		switch line[j] {
		case '\\':
			j++
		case quote:
			return j + 1, true
		}
	}
	return 0, false
}

// scanTemplate returns the end of the template literal starting at i,
// including any ${...} placeholders.
func scanTemplate(line string, i int) (int, bool) {
	depth := 0
	for j := i + 1; j < len(line); j++ {
		c := line[j]
		if depth == 0 {
			switch {
			case c == '\\':
				j++
			case c == '`':
				return j + 1, true
			case c == '$' && j+1 < len(line) && line[j+1] == '{':
				depth = 1
				j++
			}
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		case '\'', '"':
			end, ok := scanQuoted(line, j)
			if !ok {
				return 0, false
			}
			j = end - 1
		case '`':
			end, ok := scanTemplate(line, j)
			if !ok {
				return 0, false
			}
			j = end - 1
		}
	}
	return 0, false
}

func scanRegex(line string, i int) (int, bool) {
	inClass := false
	for j := i + 1; j < len(line); j++ {
		switch c := line[j]; {
		case c == '\\':
			j++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '/':
			j++
			for j < len(line) && isIdentChar(line[j]) {
				j++
			}
			return j, true
		}
	}
	return 0, false
}

// scanWord returns the end of the identifier, keyword or number at i.
func scanWord(line string, i int) int {
	number := isDigit(line[i]) || line[i] == '.'
	hex := number && strings.HasPrefix(strings.ToLower(line[i:]), "0x")
	j := i
	for j < len(line) {
		c := line[j]
		switch {
		case isWordChar(c):
		case number && c == '.':
		case number && !hex && (c == '+' || c == '-') && j > i && (line[j-1] == 'e' || line[j-1] == 'E'):
		default:
			return j
		}
		j++
	}
	return j
}
