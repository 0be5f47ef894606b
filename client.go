package gmail

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultFetchItems is what UIDFetch asks for when no items are given.
var DefaultFetchItems = []string{
	AttrUID, AttrFlags, AttrInternalDate, AttrRFC822Size, AttrEnvelope, AttrGmMsgID, AttrGmThreadID,
}

// Client is one Gmail IMAP session: a strategy and the single connection it
// authenticates. Commands are issued one at a time; a Client must not be
// shared between goroutines.
type Client struct {
	strategy      Strategy
	transport     Transport
	connected     bool
	authenticated bool

	Folder   string
	ReadOnly bool
}

// NewClient resolves scheme in reg and returns an unconnected client for
// imap.gmail.com.
func NewClient(reg *Registry, scheme, username string, opts Options) (*Client, error) {
	s, err := reg.New(scheme, username, opts)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(s, NewConn(IMAPHost, IMAPPort)), nil
}

// NewClientWithTransport returns an unconnected client using t.
func NewClientWithTransport(s Strategy, t Transport) *Client {
	return &Client{strategy: s, transport: t}
}

// Open builds a client, connects and logs in. The connection is closed if
// login fails.
func Open(reg *Registry, scheme, username string, opts Options) (*Client, error) {
	c, err := NewClient(reg, scheme, username, opts)
	if err != nil {
		return nil, err
	}
	if err = c.Connect(); err != nil {
		return nil, err
	}
	if _, err = c.Login(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Connect opens the transport.
func (c *Client) Connect() error {
	if err := c.transport.Connect(); err != nil {
		return err
	}
	c.connected = true
	return nil
}

// Login authenticates with the client's strategy. It returns
// ErrNotConnected if Connect has not succeeded, and an *AuthorizationError
// if the server does not accept the credentials.
func (c *Client) Login() (bool, error) {
	if !c.connected {
		return false, ErrNotConnected
	}
	ok, err := c.strategy.Login(c.transport)
	c.authenticated = ok && err == nil
	if err != nil {
		c.scope().warn("authentication failed", "error", err)
		return false, err
	}
	if conn, isConn := c.transport.(*Conn); isConn {
		conn.User = c.strategy.Username()
	}
	c.scope().debug("authenticated")
	return ok, nil
}

// Logout ends the session and closes the connection.
func (c *Client) Logout() error {
	if !c.connected {
		return nil
	}
	_, err := c.transport.Send("LOGOUT")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without logging out.
func (c *Client) Close() error {
	c.connected = false
	c.authenticated = false
	return c.transport.Disconnect()
}

// Authenticated reports whether Login succeeded on the current connection.
func (c *Client) Authenticated() bool { return c.authenticated }

func (c *Client) Username() string { return c.strategy.Username() }

func (c *Client) Strategy() Strategy { return c.strategy }

// Transport returns the client's connection.
func (c *Client) Transport() Transport { return c.transport }

// SMTPSettings returns the strategy's settings for sending mail.
func (c *Client) SMTPSettings() SMTPSettings { return c.strategy.SMTPSettings() }

func (c *Client) scope() logScope {
	s := logScope{user: c.strategy.Username(), mailbox: c.Folder}
	if conn, ok := c.transport.(*Conn); ok {
		s.conn = conn.ConnNum
	}
	return s
}

// exec sends a command that requires an authenticated session and fails
// unless it completes with OK.
func (c *Client) exec(command string) (*Response, error) {
	if !c.authenticated {
		return nil, fmt.Errorf("gmail %s: %w", verb(command), ErrNotConnected)
	}
	resp, err := c.transport.Send(command)
	if errors.Is(err, ErrNoResponse) {
		// the transport has given up on the connection
		c.connected = false
		c.authenticated = false
	}
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("imap command failed: %s %s", resp.Status, resp.Text)
	}
	return resp, nil
}

// ExamineFolder selects a folder in read-only mode
func (c *Client) ExamineFolder(folder string) error {
	return c.selectFolder("EXAMINE", folder, true)
}

// SelectFolder selects a folder in read-write mode
func (c *Client) SelectFolder(folder string) error {
	return c.selectFolder("SELECT", folder, false)
}

func (c *Client) selectFolder(cmd, folder string, readOnly bool) error {
	if _, err := c.exec(cmd + " " + quote(folder)); err != nil {
		return err
	}
	c.Folder = folder
	c.ReadOnly = readOnly
	if conn, ok := c.transport.(*Conn); ok {
		conn.Folder = folder
	}
	return nil
}

// UIDFetch fetches items for the messages in uids, a UID set such as
// "1:*" or "4,7". It defaults to DefaultFetchItems.
func (c *Client) UIDFetch(uids string, items ...string) ([]Attributes, error) {
	if len(items) == 0 {
		items = DefaultFetchItems
	}
	resp, err := c.exec("UID FETCH " + uids + " (" + strings.Join(items, " ") + ")")
	if err != nil {
		return nil, err
	}

	records := make([]Attributes, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		if !fetchLineStartRE.MatchString(line) {
			continue
		}
		attrs, err := parseFetchLine(line)
		if err != nil {
			c.scope().error("unparsable fetch response, connection is out of sync", "error", err)
			return nil, err
		}
		records = append(records, attrs)
	}
	return records, nil
}
