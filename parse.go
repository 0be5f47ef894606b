package gmail

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// TimeFormat is the layout of INTERNALDATE values.
const TimeFormat = "_2-Jan-2006 15:04:05 -0700"

// fetchLineStartRE matches the start of one untagged FETCH response.
var fetchLineStartRE = regexp.MustCompile(`(?i)\A\* \d+ FETCH `)

// Token represents a parsed IMAP token
type Token struct {
	Type   TType
	Str    string
	Tokens []*Token
}

// TType represents the type of an IMAP token
type TType uint8

// TAtom holds the payload of a {n} literal and TLiteral a bare atom such as
// FLAGS or \Seen. Numbers keep their digits in Str so that 64-bit ids
// survive untouched.
const (
	TUnset TType = iota
	TAtom
	TNumber
	TLiteral
	TQuoted
	TNil
	TContainer
)

// calculateTokenEnd calculates the end position of a literal token based on size and buffer constraints
func calculateTokenEnd(tokenStart, sizeVal, bufferLen int) (int, error) {
	switch {
	case tokenStart >= bufferLen:
		if sizeVal == 0 {
			return tokenStart - 1, nil // Results in empty string for r[tokenStart:tokenEnd+1]
		}
		return 0, fmt.Errorf("TAtom: literal size %d but tokenStart %d is at/past end of buffer %d", sizeVal, tokenStart, bufferLen)
	case tokenStart+sizeVal > bufferLen:
		return bufferLen - 1, nil // Taking available data
	default:
		return tokenStart + sizeVal - 1, nil
	}
}

// parseFetchTokens tokenizes an attribute list. A list wrapped in a single
// pair of parentheses is returned unwrapped. Errors are *ParseError values
// naming the text the tokenizer stopped at.
func parseFetchTokens(r string) ([]*Token, error) {
	tokens := make([]*Token, 0)
	stack := []*[]*Token{&tokens}
	opened := []int{}
	push := func(t *Token) {
		c := stack[len(stack)-1]
		*c = append(*c, t)
	}

	l := len(r)
	i := 0
	for i < l {
		b := r[i]
		switch {
		case b == ' ', b == '\r', b == '\n', b == '\t':
			i++
		case b == '(':
			t := &Token{Type: TContainer, Tokens: make([]*Token, 0, 1)}
			push(t)
			stack = append(stack, &t.Tokens)
			opened = append(opened, i)
			i++
		case b == ')':
			if len(stack) == 1 {
				return nil, tokenError(r, i, "unmatched ')'", nil)
			}
			stack = stack[:len(stack)-1]
			opened = opened[:len(opened)-1]
			i++
		case b == '"':
			s, end, err := scanQuoted(r, i+1)
			if err != nil {
				return nil, tokenError(r, i, "unterminated quoted string", err)
			}
			push(&Token{Type: TQuoted, Str: s})
			i = end + 1
		case b == '{':
			j := i + 1
			for j < l && isDigit(r[j]) {
				j++
			}
			if j == i+1 || j >= l || r[j] != '}' {
				return nil, tokenError(r, i, "malformed literal size", nil)
			}
			sizeVal, err := strconv.Atoi(r[i+1 : j])
			if err != nil {
				return nil, tokenError(r, i, "malformed literal size", err)
			}
			j++ // past '}'
			if j < l && r[j] == '\r' {
				j++
			}
			if j < l && r[j] == '\n' {
				j++
			}

			tokenEnd, err := calculateTokenEnd(j, sizeVal, l)
			if err != nil {
				return nil, tokenError(r, i, "literal has no data", err)
			}
			push(&Token{Type: TAtom, Str: r[j : tokenEnd+1]})
			i = tokenEnd + 1
		case isAtomChar(b):
			start := i
			for i < l && isAtomChar(r[i]) {
				if r[i] == '[' {
					// section specs like BODY[HEADER.FIELDS (SUBJECT)] stay one atom
					end := strings.IndexByte(r[i:], ']')
					if end == -1 {
						return nil, tokenError(r, start, "unterminated section", nil)
					}
					i += end
				}
				i++
			}
			push(atomToken(r[start:i]))
		default:
			return nil, tokenError(r, i, fmt.Sprintf("unexpected character %q", b), nil)
		}
	}

	if len(opened) != 0 {
		return nil, tokenError(r, opened[len(opened)-1], "mismatched parentheses", nil)
	}

	if len(tokens) == 1 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}

	return tokens, nil
}

// tokenError reports a tokenizer failure at r[at], quoting a short
// fragment of the input from there.
func tokenError(r string, at int, reason string, err error) *ParseError {
	const fragment = 24
	end := min(at+fragment, len(r))
	return &ParseError{Token: r[at:end], Reason: reason, Err: err}
}

// scanQuoted reads a quoted string whose body starts at start. It returns
// the unescaped text and the index of the closing quote.
func scanQuoted(r string, start int) (string, int, error) {
	var b strings.Builder
	for i := start; i < len(r); i++ {
		switch r[i] {
		case '\\':
			i++
			if i < len(r) {
				b.WriteByte(r[i])
			}
		case '"':
			return b.String(), i, nil
		default:
			b.WriteByte(r[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated quoted string at char %d in %s", start-1, r)
}

func atomToken(s string) *Token {
	switch {
	case isNumber(s):
		return &Token{Type: TNumber, Str: s}
	case strings.EqualFold(s, "NIL"):
		return &Token{Type: TNil}
	default:
		return &Token{Type: TLiteral, Str: s}
	}
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isAtomChar reports whether b may appear in a bare atom. Brackets are
// allowed so that section names like BODY[] read as one atom.
func isAtomChar(b byte) bool {
	if b <= ' ' || b == 0x7f {
		return false
	}
	switch b {
	case '(', ')', '{', '"':
		return false
	}
	return true
}

// ParseFetchResponse parses the untagged FETCH responses in a response body,
// one Attributes per message. Other untagged responses are skipped.
func ParseFetchResponse(responseBody string) (records []Attributes, err error) {
	records = make([]Attributes, 0)
	for _, line := range splitResponseLines(responseBody) {
		if !fetchLineStartRE.MatchString(line) {
			continue
		}
		attrs, err := parseFetchLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, attrs)
	}
	return records, nil
}

// splitResponseLines cuts a response body into its responses the way
// Conn.readLine reads them: a line announcing a {n} literal continues past
// the literal's n bytes, so literal text never starts a response.
func splitResponseLines(body string) []string {
	var lines []string
	for start := 0; start < len(body); {
		i := start
		for {
			nl := strings.IndexByte(body[i:], '\n')
			if nl == -1 {
				i = len(body)
				break
			}
			line := body[i : i+nl+1]
			i += nl + 1
			a := literalRE.FindString(strings.TrimRight(line, "\r\n"))
			if a == "" {
				break
			}
			n, _ := strconv.Atoi(a[1 : len(a)-1])
			i = min(i+n, len(body))
		}
		if line := strings.TrimSpace(body[start:i]); line != "" {
			lines = append(lines, line)
		}
		start = i
	}
	return lines
}

// parseFetchLine parses one "* <seq> FETCH (...)" response.
func parseFetchLine(line string) (Attributes, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "* ") {
		return nil, &ParseError{Token: line, Reason: "expected '* ' prefix"}
	}
	seq, rest, ok := strings.Cut(line[2:], " ")
	if !ok || !isNumber(seq) {
		return nil, &ParseError{Token: seq, Reason: "invalid sequence number"}
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < len("FETCH ") || !strings.EqualFold(rest[:len("FETCH ")], "FETCH ") {
		return nil, &ParseError{Token: rest, Reason: "expected FETCH"}
	}
	return ParseAttributes(rest[len("FETCH "):])
}

// ParseAttributes parses one parenthesized FETCH attribute list.
func ParseAttributes(list string) (Attributes, error) {
	list = strings.TrimSpace(list)
	if !strings.HasPrefix(list, "(") || !strings.HasSuffix(list, ")") {
		return nil, &ParseError{Token: list, Reason: "attribute list is not parenthesized"}
	}

	tokens, err := parseFetchTokens(list)
	if err != nil {
		return nil, err
	}

	attrs, err := parseAttributes(tokens)
	if err != nil {
		logScope{}.debug("unparsable attribute list", "error", err, "tokens", spew.Sdump(tokens))
		return nil, err
	}
	return attrs, nil
}

// GetTokenName returns the string name of a token type
func GetTokenName(tokenType TType) string {
	switch tokenType {
	case TUnset:
		return "TUnset"
	case TAtom:
		return "TAtom"
	case TNumber:
		return "TNumber"
	case TLiteral:
		return "TLiteral"
	case TQuoted:
		return "TQuoted"
	case TNil:
		return "TNil"
	case TContainer:
		return "TContainer"
	}
	return ""
}

// String returns a string representation of a Token
func (t Token) String() string {
	tokenType := GetTokenName(t.Type)
	switch t.Type {
	case TUnset, TNil:
		return tokenType
	case TAtom, TQuoted:
		return fmt.Sprintf("(%s, len %d, chars %d %#v)", tokenType, len(t.Str), len([]rune(t.Str)), t.Str)
	case TNumber, TLiteral:
		return fmt.Sprintf("(%s %s)", tokenType, t.Str)
	case TContainer:
		return fmt.Sprintf("(%s children: %s)", tokenType, t.Tokens)
	}
	return ""
}

// text is how a token is named in a ParseError.
func (t *Token) text() string {
	switch t.Type {
	case TNil:
		return "NIL"
	case TContainer:
		return "("
	}
	return t.Str
}
