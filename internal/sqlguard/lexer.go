package sqlguard

import (
	"errors"
	"strings"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenSemicolon
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
	// value holds the unescaped content of strings and quoted identifiers.
	value string
	pos   int
}

var (
	errUnbalanced   = errors.New("unbalanced quotes or comments")
	errDollarQuoted = errors.New("dollar-quoted strings and parameters are not allowed")
)

// lex splits SQL into tokens, dropping whitespace and comments. Any
// unterminated string, quoted identifier or block comment is an error.
func lex(input string) ([]token, error) {
	tokens := make([]token, 0, len(input)/4)
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < len(input) && input[i+1] == '-':
			end := strings.IndexByte(input[i:], '\n')
			if end < 0 {
				i = len(input)
			} else {
				i += end + 1
			}
		case c == '/' && i+1 < len(input) && input[i+1] == '*':
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return nil, errUnbalanced
			}
			i += 2 + end + 2
		case c == '\'' || c == '"':
			value, next, ok := readQuoted(input, i, c, false)
			if !ok {
				return nil, errUnbalanced
			}
			kind := tokenString
			if c == '"' {
				kind = tokenQuotedIdent
			}
			tokens = append(tokens, token{kind: kind, text: input[i:next], value: value, pos: i})
			i = next
		case c == ';':
			tokens = append(tokens, token{kind: tokenSemicolon, text: ";", pos: i})
			i++
		case isWordStart(c):
			start := i
			for i < len(input) && isWordPart(input[i]) {
				i++
			}
			// E'...' is an escape string: a backslash escapes the next byte,
			// including the quote.
			if i == start+1 && (c == 'e' || c == 'E') && i < len(input) && input[i] == '\'' {
				value, next, ok := readQuoted(input, i, '\'', true)
				if !ok {
					return nil, errUnbalanced
				}
				tokens = append(tokens, token{kind: tokenString, text: input[start:next], value: value, pos: start})
				i = next
				continue
			}
			tokens = append(tokens, token{kind: tokenWord, text: input[start:i], value: strings.ToLower(input[start:i]), pos: start})
		case isDigit(c):
			start := i
			for i < len(input) && (isDigit(input[i]) || input[i] == '.' || input[i] == 'e' || input[i] == 'E') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: input[start:i], pos: start})
		case c == '*' && i+1 < len(input) && input[i+1] == '/':
			return nil, errUnbalanced
		case c == '$':
			return nil, errDollarQuoted
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(c), pos: i})
			i++
		}
	}
	return tokens, nil
}

func readQuoted(input string, start int, quote byte, escapes bool) (string, int, bool) {
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		if escapes && input[i] == '\\' {
			if i+1 >= len(input) {
				return "", len(input), false
			}
			b.WriteByte(unescape(input[i+1]))
			i += 2
			continue
		}
		if input[i] == quote {
			if i+1 < len(input) && input[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1, true
		}
		b.WriteByte(input[i])
		i++
	}
	return "", len(input), false
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
