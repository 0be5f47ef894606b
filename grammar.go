package gmail

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// tokenStream walks one level of a token tree.
type tokenStream struct {
	tokens []*Token
	pos    int
}

// peek returns the next token without consuming it, or nil at the end.
func (s *tokenStream) peek() *Token {
	if s.pos < len(s.tokens) {
		return s.tokens[s.pos]
	}
	return nil
}

// shift consumes and returns the next token, or nil at the end.
func (s *tokenStream) shift() *Token {
	t := s.peek()
	if t != nil {
		s.pos++
	}
	return t
}

// valueRule reads the value following the attribute called name.
type valueRule func(name string, s *tokenStream) (any, error)

type attributeRule struct {
	pattern *regexp.Regexp
	parse   valueRule
}

func rule(pattern string, parse valueRule) attributeRule {
	return attributeRule{
		pattern: regexp.MustCompile(`(?i)\A(?:` + pattern + `)\z`),
		parse:   parse,
	}
}

var standardAttributes = []attributeRule{
	rule(`ENVELOPE`, envelopeData),
	rule(`FLAGS`, flagsData),
	rule(`INTERNALDATE`, internalDateData),
	rule(`RFC822(?:\.HEADER|\.TEXT)?`, textData),
	rule(`RFC822\.SIZE`, sizeData),
	rule(`BODY(?:STRUCTURE)?`, bodyData),
	rule(`BODY(?:\.PEEK)?\[[^\]]*\](?:<\d+>)?`, textData),
	rule(`UID`, uidData),
}

// gmailAttributes are Gmail's vendor attributes. They share the syntax of
// UID, so they share its rule.
var gmailAttributes = []attributeRule{
	rule(`X-GM-MSGID`, uidData),
	rule(`X-GM-THRID`, uidData),
}

// attributeGrammar is the closed vocabulary of FETCH attribute names.
var attributeGrammar = slices.Concat(standardAttributes, gmailAttributes)

func lookupAttribute(name string) valueRule {
	for _, r := range attributeGrammar {
		if r.pattern.MatchString(name) {
			return r.parse
		}
	}
	return nil
}

// parseAttributes reads name/value pairs until the stream is exhausted.
// When a name repeats, the later value wins.
func parseAttributes(tokens []*Token) (Attributes, error) {
	s := &tokenStream{tokens: tokens}
	attrs := make(Attributes, len(tokens)/2)
	for s.peek() != nil {
		t := s.shift()
		if t.Type != TLiteral {
			return nil, &ParseError{Token: t.text(), Reason: "expected attribute name, got " + GetTokenName(t.Type)}
		}
		parse := lookupAttribute(t.Str)
		if parse == nil {
			return nil, &ParseError{Token: t.Str, Reason: "unknown attribute"}
		}
		v, err := parse(t.Str, s)
		if err != nil {
			return nil, err
		}
		attrs[strings.ToUpper(t.Str)] = v
	}
	return attrs, nil
}

// expect consumes the value token of name and checks its type.
func expect(name string, s *tokenStream, types ...TType) (*Token, error) {
	t := s.shift()
	if t == nil {
		return nil, &ParseError{Token: name, Reason: "missing value for"}
	}
	if !slices.Contains(types, t.Type) {
		return nil, unexpected(name, t, types...)
	}
	return t, nil
}

func unexpected(name string, t *Token, types ...TType) *ParseError {
	names := make([]string, len(types))
	for i, tt := range types {
		names[i] = GetTokenName(tt)
	}
	return &ParseError{
		Token:  t.text(),
		Reason: fmt.Sprintf("%s: expected %s, got %s", name, strings.Join(names, "|"), GetTokenName(t.Type)),
	}
}

func uidData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TNumber)
	if err != nil {
		return nil, err
	}
	return Number(t.Str), nil
}

func sizeData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TNumber)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(t.Str, 10, 64)
	if err != nil {
		return nil, &ParseError{Token: t.Str, Reason: name + ": invalid size", Err: err}
	}
	return n, nil
}

func flagsData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TContainer)
	if err != nil {
		return nil, err
	}
	flags := make([]string, 0, len(t.Tokens))
	for _, f := range t.Tokens {
		if f.Type != TLiteral && f.Type != TNumber {
			return nil, unexpected(name, f, TLiteral)
		}
		flags = append(flags, f.Str)
	}
	return flags, nil
}

func internalDateData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TQuoted)
	if err != nil {
		return nil, err
	}
	d, err := time.Parse(TimeFormat, t.Str)
	if err != nil {
		return nil, &ParseError{Token: t.Str, Reason: name + ": invalid date-time", Err: err}
	}
	return d, nil
}

func textData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TAtom, TQuoted, TNil)
	if err != nil {
		return nil, err
	}
	return t.Str, nil
}

func envelopeData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TContainer)
	if err != nil {
		return nil, err
	}
	return parseEnvelope(t)
}

func bodyData(name string, s *tokenStream) (any, error) {
	t, err := expect(name, s, TContainer)
	if err != nil {
		return nil, err
	}
	return parseBodyStructure(t)
}

// Envelope field positions
const (
	EDate uint8 = iota
	ESubject
	EFrom
	ESender
	EReplyTo
	ETo
	ECC
	EBCC
	EInReplyTo
	EMessageID
)

// Address field positions
const (
	EEName uint8 = iota
	EESR
	EEMailbox
	EEHost
)

func parseEnvelope(t *Token) (*EnvelopeData, error) {
	tks := t.Tokens
	if len(tks) < int(EMessageID)+1 {
		return nil, &ParseError{Token: AttrEnvelope, Reason: fmt.Sprintf("envelope has %d fields, want 10:", len(tks))}
	}

	env := &EnvelopeData{}
	var err error
	for _, f := range []struct {
		dest *string
		pos  uint8
	}{
		{&env.Date, EDate},
		{&env.Subject, ESubject},
		{&env.InReplyTo, EInReplyTo},
		{&env.MessageID, EMessageID},
	} {
		if *f.dest, err = nstring(AttrEnvelope, tks[f.pos]); err != nil {
			return nil, err
		}
	}

	for _, a := range []struct {
		dest *[]*AddressData
		pos  uint8
	}{
		{&env.From, EFrom},
		{&env.Sender, ESender},
		{&env.ReplyTo, EReplyTo},
		{&env.To, ETo},
		{&env.Cc, ECC},
		{&env.Bcc, EBCC},
	} {
		if *a.dest, err = addressList(tks[a.pos]); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func addressList(t *Token) ([]*AddressData, error) {
	switch t.Type {
	case TNil:
		return nil, nil
	case TContainer:
	default:
		return nil, unexpected("address list", t, TContainer, TNil)
	}

	list := make([]*AddressData, 0, len(t.Tokens))
	for _, at := range t.Tokens {
		if at.Type != TContainer || len(at.Tokens) < int(EEHost)+1 {
			return nil, &ParseError{Token: at.text(), Reason: "malformed address:"}
		}
		a := &AddressData{}
		var err error
		for _, f := range []struct {
			dest *string
			pos  uint8
		}{
			{&a.Name, EEName},
			{&a.Route, EESR},
			{&a.Mailbox, EEMailbox},
			{&a.Host, EEHost},
		} {
			if *f.dest, err = nstring("address", at.Tokens[f.pos]); err != nil {
				return nil, err
			}
		}
		list = append(list, a)
	}
	return list, nil
}

// nstring reads a string-valued field. NIL reads as "". Bare atoms and
// numbers are accepted as well since some servers send them unquoted.
func nstring(name string, t *Token) (string, error) {
	switch t.Type {
	case TQuoted, TAtom, TLiteral, TNumber, TNil:
		return t.Str, nil
	}
	return "", unexpected(name, t, TQuoted, TAtom, TNil)
}

func parseBodyStructure(t *Token) (*BodyStructure, error) {
	tks := t.Tokens
	if len(tks) == 0 {
		return nil, &ParseError{Token: AttrBody, Reason: "empty body structure:"}
	}

	if tks[0].Type == TContainer {
		bs := &BodyStructure{MIMEType: "multipart"}
		i := 0
		for ; i < len(tks) && tks[i].Type == TContainer; i++ {
			part, err := parseBodyStructure(tks[i])
			if err != nil {
				return nil, err
			}
			bs.Parts = append(bs.Parts, part)
		}
		if i < len(tks) {
			sub, err := nstring(AttrBody, tks[i])
			if err != nil {
				return nil, err
			}
			bs.MIMESubtype = strings.ToLower(sub)
		}
		// extension data after the subtype is not kept
		return bs, nil
	}

	if len(tks) < 7 {
		return nil, &ParseError{Token: AttrBody, Reason: fmt.Sprintf("body part has %d fields, want at least 7:", len(tks))}
	}

	bs := &BodyStructure{}
	fields := []*string{&bs.MIMEType, &bs.MIMESubtype, nil, &bs.ID, &bs.Description, &bs.Encoding}
	for i, dest := range fields {
		if dest == nil {
			continue
		}
		v, err := nstring(AttrBody, tks[i])
		if err != nil {
			return nil, err
		}
		*dest = v
	}
	bs.MIMEType = strings.ToLower(bs.MIMEType)
	bs.MIMESubtype = strings.ToLower(bs.MIMESubtype)

	params, err := bodyParams(tks[2])
	if err != nil {
		return nil, err
	}
	bs.Params = params

	if bs.Size, err = number32(tks[6]); err != nil {
		return nil, err
	}

	switch {
	case bs.MIMEType == "message" && bs.MIMESubtype == "rfc822" && len(tks) >= 10:
		if tks[7].Type == TContainer {
			if bs.Envelope, err = parseEnvelope(tks[7]); err != nil {
				return nil, err
			}
		}
		if tks[8].Type == TContainer {
			if bs.Body, err = parseBodyStructure(tks[8]); err != nil {
				return nil, err
			}
		}
		if bs.Lines, err = number32(tks[9]); err != nil {
			return nil, err
		}
	case bs.MIMEType == "text" && len(tks) >= 8:
		if bs.Lines, err = number32(tks[7]); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

func bodyParams(t *Token) (map[string]string, error) {
	switch t.Type {
	case TNil:
		return nil, nil
	case TContainer:
	default:
		return nil, unexpected("body parameters", t, TContainer, TNil)
	}
	if len(t.Tokens)%2 != 0 {
		return nil, &ParseError{Token: AttrBody, Reason: "odd number of body parameters:"}
	}
	params := make(map[string]string, len(t.Tokens)/2)
	for i := 0; i < len(t.Tokens); i += 2 {
		k, err := nstring("body parameters", t.Tokens[i])
		if err != nil {
			return nil, err
		}
		v, err := nstring("body parameters", t.Tokens[i+1])
		if err != nil {
			return nil, err
		}
		params[strings.ToLower(k)] = v
	}
	return params, nil
}

func number32(t *Token) (uint32, error) {
	if t.Type != TNumber {
		return 0, unexpected(AttrBody, t, TNumber)
	}
	n, err := strconv.ParseUint(t.Str, 10, 32)
	if err != nil {
		return 0, &ParseError{Token: t.Str, Reason: "number out of range:", Err: err}
	}
	return uint32(n), nil
}
