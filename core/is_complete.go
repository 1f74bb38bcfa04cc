package core

import (
	"errors"
	"fmt"
	"strings"
)

// SyntaxChecker performs a no-op parse of candidate source text.
type SyntaxChecker interface {
	Check(code string) error
}

var (
	errUnterminatedString  = errors.New("unterminated string literal")
	errUnterminatedComment = errors.New("unterminated block comment")
	errDanglingOperator    = errors.New("statement ends with an operator")
)

// ECLChecker is a lexical completeness check for ECL. It does not type check.
type ECLChecker struct{}

// Check reports an error when code has an open string, comment, or bracket,
// or ends in the middle of a definition.
func (ECLChecker) Check(code string) error {
	var stack []byte
	last := ""
	i := 0
	for i < len(code) {
		c := code[i]
		switch {
		case strings.HasPrefix(code[i:], "//"):
			end := strings.IndexByte(code[i:], '\n')
			if end < 0 {
				i = len(code)
				continue
			}
			i += end
		case strings.HasPrefix(code[i:], "/*"):
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				return errUnterminatedComment
			}
			i += 2 + end + 2
			continue
		case strings.HasPrefix(code[i:], "'''"):
			end := strings.Index(code[i+3:], "'''")
			if end < 0 {
				return errUnterminatedString
			}
			i += 3 + end + 3
			last = "'"
			continue
		case c == '\'':
			next, err := skipQuoted(code, i)
			if err != nil {
				return err
			}
			i = next
			last = "'"
			continue
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
			last = string(c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 {
				return fmt.Errorf("unexpected %q at offset %d", c, i)
			}
			open := stack[len(stack)-1]
			if !matches(open, c) {
				return fmt.Errorf("mismatched %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
			last = string(c)
		case strings.HasPrefix(code[i:], ":="):
			last = ":="
			i += 2
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		default:
			last = string(c)
		}
		i++
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	if last == ":=" || last == "," {
		return errDanglingOperator
	}
	return nil
}

func skipQuoted(code string, start int) (int, error) {
	for i := start + 1; i < len(code); i++ {
		switch code[i] {
		case '\\':
			i++
		case '\n':
			return 0, errUnterminatedString
		case '\'':
			return i + 1, nil
		}
	}
	return 0, errUnterminatedString
}

func matches(open, close byte) bool {
	switch open {
	case '(':
		return close == ')'
	case '[':
		return close == ']'
	case '{':
		return close == '}'
	}
	return false
}
