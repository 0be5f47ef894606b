package gmail

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sqs/go-xoauth2"
)

const xoauthURLFormat = "https://mail.google.com/mail/b/%s/imap/"

// XOAuthStrategy authenticates with Gmail's OAuth 1.0 XOAUTH mechanism: the
// initial client response is a signed GET request for the user's IMAP
// resource.
type XOAuthStrategy struct {
	account
	creds TokenCredentials

	now   func() time.Time
	nonce func() string
}

// NewXOAuthStrategy returns an XOAUTH strategy. Only the consumer and token
// fields of creds are used.
func NewXOAuthStrategy(username string, creds TokenCredentials) *XOAuthStrategy {
	creds.AccessToken = ""
	return &XOAuthStrategy{
		account: account{username: username},
		creds:   creds,
		now:     time.Now,
		nonce:   func() string { return xid.New().String() },
	}
}

func newXOAuthStrategy(username string, opts Options) (Strategy, error) {
	err := opts.require(SchemeXOAuth, username, OptToken, OptSecret, OptConsumerKey, OptConsumerSecret)
	if err != nil {
		return nil, err
	}
	s := NewXOAuthStrategy(username, TokenCredentials{
		ConsumerKey:    opts[OptConsumerKey],
		ConsumerSecret: opts[OptConsumerSecret],
		Token:          opts[OptToken],
		TokenSecret:    opts[OptSecret],
	})
	s.domain = opts[OptDomain]
	return s, nil
}

// Credentials returns the token material.
func (s *XOAuthStrategy) Credentials() TokenCredentials { return s.creds }

// Login sends AUTHENTICATE XOAUTH with the signed request as initial response.
func (s *XOAuthStrategy) Login(t Transport) (bool, error) {
	resp, err := t.Send("AUTHENTICATE XOAUTH " + s.initialResponse())
	return authResult(s.username, resp, err)
}

// SMTPSettings nests the four token values under the password.
func (s *XOAuthStrategy) SMTPSettings() SMTPSettings {
	creds := s.creds
	return s.smtpSettings(SMTPAuthXOAuth, SMTPPassword{Token: &creds})
}

func (s *XOAuthStrategy) initialResponse() string {
	requestURL := fmt.Sprintf(xoauthURLFormat, s.username)
	params := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.creds.Token,
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = oauthSignature("GET", requestURL, params, s.creds.ConsumerSecret, s.creds.TokenSecret)

	keys := sortedKeys(params)
	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = k + `="` + oauthEscape(params[k]) + `"`
	}
	req := "GET " + requestURL + " " + strings.Join(fields, ",")
	return base64.StdEncoding.EncodeToString([]byte(req))
}

// oauthSignature computes the OAuth 1.0 HMAC-SHA1 signature of a request.
func oauthSignature(method, requestURL string, params map[string]string, consumerSecret, tokenSecret string) string {
	keys := sortedKeys(params)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "oauth_signature" {
			continue
		}
		pairs = append(pairs, oauthEscape(k)+"="+oauthEscape(params[k]))
	}
	base := method + "&" + oauthEscape(requestURL) + "&" + oauthEscape(strings.Join(pairs, "&"))

	mac := hmac.New(sha1.New, []byte(oauthEscape(consumerSecret)+"&"+oauthEscape(tokenSecret)))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauthEscape percent-encodes everything but the RFC 3986 unreserved set.
func oauthEscape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// XOAuth2Strategy authenticates with an OAuth 2.0 access token.
type XOAuth2Strategy struct {
	account
	accessToken string
}

// NewXOAuth2Strategy returns an XOAUTH2 strategy.
func NewXOAuth2Strategy(username, accessToken string) *XOAuth2Strategy {
	return &XOAuth2Strategy{account: account{username: username}, accessToken: accessToken}
}

func newXOAuth2Strategy(username string, opts Options) (Strategy, error) {
	if err := opts.require(SchemeXOAuth2, username, OptAccessToken); err != nil {
		return nil, err
	}
	s := NewXOAuth2Strategy(username, opts[OptAccessToken])
	s.domain = opts[OptDomain]
	return s, nil
}

// Login sends AUTHENTICATE XOAUTH2 with the bearer token.
func (s *XOAuth2Strategy) Login(t Transport) (bool, error) {
	resp, err := t.Send("AUTHENTICATE XOAUTH2 " + xoauth2.XOAuth2String(s.username, s.accessToken))
	return authResult(s.username, resp, err)
}

func (s *XOAuth2Strategy) SMTPSettings() SMTPSettings {
	return s.smtpSettings(SMTPAuthXOAuth2, SMTPPassword{Token: &TokenCredentials{AccessToken: s.accessToken}})
}
