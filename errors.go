package gmail

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("gmail: not connected")

	// ErrNoResponse is returned by a transport when the connection ended
	// before the server sent a tagged completion for the command.
	ErrNoResponse = errors.New("gmail: no response from server")
)

// AuthorizationError reports that the server did not accept the credentials
// of Username, either by rejecting them or by never answering the login.
type AuthorizationError struct {
	Username string
	// Reason is the server's completion text, if the server answered at all.
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("couldn't login to given Gmail account: %s", e.Username)
	switch {
	case e.Reason != "":
		msg += ": " + e.Reason
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ConfigurationError reports an unknown authentication scheme or missing
// scheme options.
type ConfigurationError struct {
	Scheme string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unknown authentication scheme %q", e.Scheme)
	}
	return fmt.Sprintf("authentication scheme %q: %s", e.Scheme, e.Reason)
}

// ParseError reports a FETCH attribute list the parser could not read.
// After a ParseError the position in the response stream is unknown and the
// connection should not be reused.
type ParseError struct {
	Token  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return "parse error: " + e.Reason
	}
	return fmt.Sprintf("parse error: %s `%s'", e.Reason, e.Token)
}

func (e *ParseError) Unwrap() error { return e.Err }
