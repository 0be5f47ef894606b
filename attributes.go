package gmail

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/jhillyerd/enmime/v2"
)

// Attribute names as they appear as Attributes keys.
const (
	AttrEnvelope      = "ENVELOPE"
	AttrFlags         = "FLAGS"
	AttrInternalDate  = "INTERNALDATE"
	AttrRFC822        = "RFC822"
	AttrRFC822Header  = "RFC822.HEADER"
	AttrRFC822Text    = "RFC822.TEXT"
	AttrRFC822Size    = "RFC822.SIZE"
	AttrBody          = "BODY"
	AttrBodyStructure = "BODYSTRUCTURE"
	AttrBodySection   = "BODY[]"
	AttrUID           = "UID"
	AttrGmMsgID       = "X-GM-MSGID"
	AttrGmThreadID    = "X-GM-THRID"
)

// Number is a numeric attribute exactly as the server sent it. Gmail ids
// are unsigned 64-bit values; treat them as opaque tokens.
type Number string

// Uint64 converts n for callers that need a numeric value.
func (n Number) Uint64() (uint64, error) {
	return strconv.ParseUint(string(n), 10, 64)
}

func (n Number) String() string { return string(n) }

// Attributes maps upper-cased attribute names to parsed values:
//
//	ENVELOPE                       *EnvelopeData
//	FLAGS                          []string
//	INTERNALDATE                   time.Time
//	RFC822, RFC822.HEADER/TEXT     string
//	BODY[section]<origin>          string
//	RFC822.SIZE                    uint64
//	BODY, BODYSTRUCTURE            *BodyStructure
//	UID, X-GM-MSGID, X-GM-THRID    Number
type Attributes map[string]any

func (a Attributes) number(key string) (Number, bool) {
	n, ok := a[key].(Number)
	return n, ok
}

// UID returns the message UID.
func (a Attributes) UID() (Number, bool) { return a.number(AttrUID) }

// GmMsgID returns Gmail's persistent message id.
func (a Attributes) GmMsgID() (Number, bool) { return a.number(AttrGmMsgID) }

// GmThreadID returns Gmail's persistent thread id.
func (a Attributes) GmThreadID() (Number, bool) { return a.number(AttrGmThreadID) }

func (a Attributes) Flags() []string {
	flags, _ := a[AttrFlags].([]string)
	return flags
}

func (a Attributes) InternalDate() (time.Time, bool) {
	d, ok := a[AttrInternalDate].(time.Time)
	return d, ok
}

func (a Attributes) Size() (uint64, bool) {
	n, ok := a[AttrRFC822Size].(uint64)
	return n, ok
}

// Text returns a string-valued attribute such as RFC822 or BODY[].
func (a Attributes) Text(key string) (string, bool) {
	s, ok := a[strings.ToUpper(key)].(string)
	return s, ok
}

// EnvelopeData returns the ENVELOPE attribute as sent.
func (a Attributes) EnvelopeData() (*EnvelopeData, bool) {
	env, ok := a[AttrEnvelope].(*EnvelopeData)
	return env, ok && env != nil
}

// Envelope lifts ENVELOPE into an Envelope carrying the sibling X-GM-MSGID
// and X-GM-THRID attributes.
func (a Attributes) Envelope() (*Envelope, bool) {
	src, ok := a.EnvelopeData()
	if !ok {
		return nil, false
	}
	msgID, _ := a.GmMsgID()
	threadID, _ := a.GmThreadID()
	return NewEnvelope(src, msgID, threadID), true
}

// BodyStructure returns BODYSTRUCTURE, or the BODY structure if that is
// what was fetched.
func (a Attributes) BodyStructure() (*BodyStructure, bool) {
	for _, key := range []string{AttrBodyStructure, AttrBody} {
		if bs, ok := a[key].(*BodyStructure); ok && bs != nil {
			return bs, true
		}
	}
	return nil, false
}

// Message decodes the full message from RFC822 or BODY[].
func (a Attributes) Message() (*enmime.Envelope, error) {
	for _, key := range []string{AttrRFC822, AttrBodySection} {
		if raw, ok := a.Text(key); ok {
			env, err := enmime.ReadEnvelope(strings.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("gmail: decode %s: %w", key, err)
			}
			return env, nil
		}
	}
	return nil, fmt.Errorf("gmail: no %s or %s attribute to decode", AttrRFC822, AttrBodySection)
}

// String returns a short human-readable summary.
func (a Attributes) String() string {
	s := strings.Builder{}

	if uid, ok := a.UID(); ok {
		s.WriteString(fmt.Sprintf("UID: %s\n", uid))
	}
	if id, ok := a.GmMsgID(); ok {
		s.WriteString(fmt.Sprintf("X-GM-MSGID: %s\n", id))
	}
	if id, ok := a.GmThreadID(); ok {
		s.WriteString(fmt.Sprintf("X-GM-THRID: %s\n", id))
	}
	if env, ok := a.Envelope(); ok {
		s.WriteString(fmt.Sprintf("Subject: %s\n", env.DecodedSubject()))
		if len(env.From) != 0 {
			s.WriteString(fmt.Sprintf("From: %s\n", joinAddresses(env.From)))
		}
		if link, ok := env.URL(); ok {
			s.WriteString(fmt.Sprintf("URL: %s\n", link))
		}
	}
	if flags := a.Flags(); len(flags) != 0 {
		s.WriteString(fmt.Sprintf("Flags: %s\n", strings.Join(flags, " ")))
	}
	if d, ok := a.InternalDate(); ok {
		s.WriteString(fmt.Sprintf("Received: %s (%s)\n", d.Format(time.RFC1123Z), humanize.Time(d)))
	}
	if n, ok := a.Size(); ok {
		s.WriteString(fmt.Sprintf("Size: %s\n", humanize.Bytes(n)))
	}
	return s.String()
}

// BodyStructure is a parsed BODY or BODYSTRUCTURE. Multipart bodies have
// MIMEType "multipart" and their children in Parts.
type BodyStructure struct {
	MIMEType    string
	MIMESubtype string
	Params      map[string]string
	ID          string
	Description string
	Encoding    string
	Size        uint32
	// Lines is set for text and message/rfc822 parts.
	Lines uint32
	// Envelope and Body are set for message/rfc822 parts.
	Envelope *EnvelopeData
	Body     *BodyStructure
	Parts    []*BodyStructure
}
