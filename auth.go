package gmail

import (
	"net"
	"strconv"
	"strings"
)

// Strategy authenticates a connected Transport with one credential scheme
// and describes the same credentials for an SMTP delivery channel.
type Strategy interface {
	Username() string
	// Login authenticates t, which must already be connected. Any outcome
	// other than a tagged OK is reported as an *AuthorizationError, except
	// credentials that cannot be put on the wire at all, which are a
	// *ConfigurationError and send nothing.
	Login(t Transport) (bool, error)
	SMTPSettings() SMTPSettings
}

// SMTP authentication mechanisms named in SMTPSettings.
const (
	SMTPAuthPlain   = "plain"
	SMTPAuthXOAuth  = "xoauth"
	SMTPAuthXOAuth2 = "xoauth2"
)

// SMTPSettings are the connection parameters a delivery transport needs to
// send mail as the authenticated user.
type SMTPSettings struct {
	Address            string
	Port               int
	Domain             string
	UserName           string
	Password           SMTPPassword
	Authentication     string
	EnableStartTLSAuto bool
}

// Addr returns Address:Port.
func (s SMTPSettings) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// SMTPPassword holds either a shared secret or, for token schemes, the
// token material the delivery transport signs with.
type SMTPPassword struct {
	Secret string
	Token  *TokenCredentials
}

// TokenCredentials is the token material of the OAuth schemes. XOAUTH uses
// the first four fields, XOAUTH2 only AccessToken.
type TokenCredentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	AccessToken    string
}

type account struct {
	username string
	domain   string
}

func (a account) Username() string { return a.username }

func (a account) smtpSettings(authentication string, password SMTPPassword) SMTPSettings {
	domain := a.domain
	if domain == "" {
		domain = DefaultDomain
	}
	return SMTPSettings{
		Address:            SMTPHost,
		Port:               SMTPPort,
		Domain:             domain,
		UserName:           a.username,
		Password:           password,
		Authentication:     authentication,
		EnableStartTLSAuto: true,
	}
}

// authResult folds a login exchange into the uniform Login result.
func authResult(username string, resp *Response, err error) (bool, error) {
	switch {
	case err != nil:
		return false, &AuthorizationError{Username: username, Err: err}
	case resp == nil:
		return false, &AuthorizationError{Username: username, Err: ErrNoResponse}
	case !resp.OK():
		return false, &AuthorizationError{
			Username: username,
			Reason:   strings.TrimSpace(resp.Status + " " + resp.Text),
		}
	}
	return true, nil
}

// PlainStrategy logs in with LOGIN and a shared password.
type PlainStrategy struct {
	account
	password string
}

// NewPlainStrategy returns a shared-secret strategy.
func NewPlainStrategy(username, password string) *PlainStrategy {
	return &PlainStrategy{account: account{username: username}, password: password}
}

func newPlainStrategy(username string, opts Options) (Strategy, error) {
	if err := opts.require(SchemePlain, username, OptPassword); err != nil {
		return nil, err
	}
	s := NewPlainStrategy(username, opts[OptPassword])
	s.domain = opts[OptDomain]
	if err := s.checkQuotable(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkQuotable rejects credentials LOGIN cannot carry as quoted strings.
func (s *PlainStrategy) checkQuotable() error {
	switch {
	case !quotable(s.username):
		return &ConfigurationError{Scheme: SchemePlain, Reason: "username contains CR, LF, NUL or 8-bit characters"}
	case !quotable(s.password):
		return &ConfigurationError{Scheme: SchemePlain, Reason: "password contains CR, LF, NUL or 8-bit characters"}
	}
	return nil
}

// Password returns the shared secret.
func (s *PlainStrategy) Password() string { return s.password }

// Login sends LOGIN with the username and password.
func (s *PlainStrategy) Login(t Transport) (bool, error) {
	if err := s.checkQuotable(); err != nil {
		return false, err
	}
	resp, err := t.Send("LOGIN " + quote(s.username) + " " + quote(s.password))
	return authResult(s.username, resp, err)
}

// SMTPSettings reuses the password as-is.
func (s *PlainStrategy) SMTPSettings() SMTPSettings {
	return s.smtpSettings(SMTPAuthPlain, SMTPPassword{Secret: s.password})
}
