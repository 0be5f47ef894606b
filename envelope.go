package gmail

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// PermalinkPrefix is prepended to X-GM-MSGID to link to a message in the
// Gmail web interface.
const PermalinkPrefix = "https://mail.google.com/mail/#inbox/"

// AddressData is an address structure as it appears in an ENVELOPE.
type AddressData struct {
	Name    string
	Route   string
	Mailbox string
	Host    string
}

// EnvelopeData is an ENVELOPE as it appears on the wire. Absent (NIL)
// strings are empty and absent address lists are nil.
type EnvelopeData struct {
	Date      string
	Subject   string
	From      []*AddressData
	Sender    []*AddressData
	ReplyTo   []*AddressData
	To        []*AddressData
	Cc        []*AddressData
	Bcc       []*AddressData
	InReplyTo string
	MessageID string
}

// Address is one mailbox of an envelope. Empty fields were absent.
type Address struct {
	Mailbox string
	Name    string
	// Route is the obsolete source route; servers rarely fill it in.
	Route string
	Host  string
}

// NewAddress copies src.
func NewAddress(src *AddressData) Address {
	if src == nil {
		return Address{}
	}
	return Address{
		Mailbox: src.Mailbox,
		Name:    src.Name,
		Route:   src.Route,
		Host:    src.Host,
	}
}

// RecipientAddress returns mailbox@host. ok is false when either part is
// missing, in which case there is no usable address.
func (a Address) RecipientAddress() (addr string, ok bool) {
	if a.Mailbox == "" || a.Host == "" {
		return "", false
	}
	return a.Mailbox + "@" + a.Host, true
}

// DecodedName returns the display name with RFC 2047 encoded-words decoded.
func (a Address) DecodedName() string {
	return decodeHeader(a.Name)
}

func (a Address) String() string {
	addr, ok := a.RecipientAddress()
	if !ok {
		addr = a.Mailbox
	}
	name := a.DecodedName()
	switch {
	case name == "":
		return addr
	case strings.ContainsAny(name, `,"<>@`):
		return fmt.Sprintf(`"%s" <%s>`, AddSlashes.Replace(name), addr)
	default:
		return fmt.Sprintf("%s <%s>", name, addr)
	}
}

func joinAddresses(list []Address) string {
	s := make([]string, len(list))
	for i, a := range list {
		s[i] = a.String()
	}
	return strings.Join(s, ", ")
}

// Envelope is a message's envelope plus its Gmail ids. Address lists keep
// wire order and are never nil.
type Envelope struct {
	Sender  []Address
	From    []Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	ReplyTo *Address

	Subject string
	// Date is zero when the message has no date or it could not be parsed.
	Date time.Time
	// RawDate is the date as the server sent it.
	RawDate   string
	InReplyTo string
	MessageID string

	GmMsgID    Number
	GmThreadID Number
}

// NewEnvelope builds an Envelope from src and the X-GM-MSGID and
// X-GM-THRID attributes fetched alongside it. A nil src yields an
// envelope with only the ids set.
func NewEnvelope(src *EnvelopeData, gmMsgID, gmThreadID Number) *Envelope {
	e := &Envelope{
		Sender:     []Address{},
		From:       []Address{},
		To:         []Address{},
		Cc:         []Address{},
		Bcc:        []Address{},
		GmMsgID:    gmMsgID,
		GmThreadID: gmThreadID,
	}
	if src == nil {
		return e
	}

	for _, l := range []struct {
		dest *[]Address
		src  []*AddressData
	}{
		{&e.Sender, src.Sender},
		{&e.From, src.From},
		{&e.To, src.To},
		{&e.Cc, src.Cc},
		{&e.Bcc, src.Bcc},
	} {
		for _, a := range l.src {
			*l.dest = append(*l.dest, NewAddress(a))
		}
	}
	if len(src.ReplyTo) != 0 {
		r := NewAddress(src.ReplyTo[0])
		e.ReplyTo = &r
	}

	e.Subject = src.Subject
	e.RawDate = src.Date
	e.Date = parseEnvelopeDate(src.Date)
	e.InReplyTo = src.InReplyTo
	e.MessageID = src.MessageID
	return e
}

// URL returns the message's Gmail web link. ok is false when the message
// has no X-GM-MSGID.
func (e *Envelope) URL() (link string, ok bool) {
	if e == nil || e.GmMsgID == "" {
		return "", false
	}
	return PermalinkPrefix + string(e.GmMsgID), true
}

// DecodedSubject returns the subject with RFC 2047 encoded-words decoded.
func (e *Envelope) DecodedSubject() string {
	return decodeHeader(e.Subject)
}

func parseEnvelopeDate(s string) time.Time {
	if strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	d, err := mail.ParseDate(s)
	if err != nil {
		logScope{}.debug("unparsable envelope date", "date", s, "error", err)
		return time.Time{}
	}
	return d
}

var headerDecoder = mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	encoding, _ := charset.Lookup(label)
	if encoding == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return encoding.NewDecoder().Reader(input), nil
}

// decodeHeader decodes encoded-words, returning s unchanged if it cannot.
func decodeHeader(s string) string {
	d, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return d
}
