package foamdict

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord     tokenKind = iota // words, numbers, $macros, #directives
	tokString                    // "quoted"
	tokVerbatim                  // #{ ... #}
	tokLBrace
	tokRBrace
	tokSemi
	tokLGroup // ( or [
	tokRGroup // ) or ]
)

type token struct {
	kind       tokenKind
	start, end int // byte offsets into the source, end exclusive
	line       int
}

// SyntaxError reports where the scanner or parser gave up.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// scan splits src into tokens, dropping whitespace and comments.
func scan(src []byte) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			startLine := line
			end := strings.Index(string(src[i+2:]), "*/")
			if end < 0 {
				return nil, &SyntaxError{Line: startLine, Msg: "unterminated block comment"}
			}
			stop := i + 2 + end + 2
			line += countNewlines(src[i:stop])
			i = stop
		case c == '"':
			start, startLine := i, line
			i++
			for i < len(src) && src[i] != '"' {
				if src[i] == '\\' && i+1 < len(src) {
					i++
				}
				if src[i] == '\n' {
					line++
				}
				i++
			}
			if i >= len(src) {
				return nil, &SyntaxError{Line: startLine, Msg: "unterminated string"}
			}
			i++
			toks = append(toks, token{kind: tokString, start: start, end: i, line: startLine})
		case c == '#' && i+1 < len(src) && src[i+1] == '{':
			start, startLine := i, line
			end := strings.Index(string(src[i+2:]), "#}")
			if end < 0 {
				return nil, &SyntaxError{Line: startLine, Msg: "unterminated #{ block"}
			}
			i = i + 2 + end + 2
			line += countNewlines(src[start:i])
			toks = append(toks, token{kind: tokVerbatim, start: start, end: i, line: startLine})
		case c == '{':
			toks = append(toks, token{kind: tokLBrace, start: i, end: i + 1, line: line})
			i++
		case c == '}':
			toks = append(toks, token{kind: tokRBrace, start: i, end: i + 1, line: line})
			i++
		case c == ';':
			toks = append(toks, token{kind: tokSemi, start: i, end: i + 1, line: line})
			i++
		case c == '(' || c == '[':
			toks = append(toks, token{kind: tokLGroup, start: i, end: i + 1, line: line})
			i++
		case c == ')' || c == ']':
			toks = append(toks, token{kind: tokRGroup, start: i, end: i + 1, line: line})
			i++
		default:
			start := i
			i = scanWord(src, i)
			toks = append(toks, token{kind: tokWord, start: start, end: i, line: line})
		}
	}
	return toks, nil
}

// scanWord consumes a word starting at i. Balanced parentheses belong to
// the word, so keys such as div(phi,U) stay whole.
func scanWord(src []byte, i int) int {
	depth := 0
	for i < len(src) {
		c := src[i]
		switch c {
		case ' ', '\t', '\r', '\n', '\f', '\v', '{', '}', ';', '"', '[', ']':
			return i
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return i
			}
			depth--
		case '/':
			if i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*') {
				return i
			}
		}
		i++
	}
	return i
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
