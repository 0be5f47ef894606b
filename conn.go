package gmail

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
)

var (
	lastConnNum      = 0
	lastConnNumMutex = sync.Mutex{}
)

// newConnNum numbers connections from 1 for log entries.
func newConnNum() int {
	lastConnNumMutex.Lock()
	defer lastConnNumMutex.Unlock()
	lastConnNum++
	return lastConnNum
}

// Conn is a TLS connection to an IMAP server. It implements Transport.
type Conn struct {
	conn      net.Conn
	r         *bufio.Reader
	Host      string
	Port      int
	Connected bool
	ConnNum   int
	// Folder and User only label log entries. User is set once a Client
	// has authenticated on the connection.
	Folder string
	User   string
}

func (c *Conn) scope() logScope {
	return logScope{conn: c.ConnNum, user: c.User, mailbox: c.Folder}
}

// NewConn returns an unconnected Conn for host:port.
func NewConn(host string, port int) *Conn {
	return &Conn{
		Host:    host,
		Port:    port,
		ConnNum: newConnNum(),
	}
}

// dialHost establishes a TLS connection to the IMAP server
func dialHost(host string, port int) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: DialTimeout}
	var cfg *tls.Config
	if TLSSkipVerify {
		cfg = &tls.Config{InsecureSkipVerify: true}
	}
	return tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, strconv.Itoa(port)), cfg)
}

// Connect dials the server and reads its greeting. Dialing is retried up to
// RetryCount times; a refused greeting is not.
func (c *Conn) Connect() (err error) {
	if c.Connected {
		return nil
	}

	var conn *tls.Conn
	err = retry.Retry(func() error {
		c.scope().debug("establishing connection", "host", c.Host, "port", c.Port)
		conn, err = dialHost(c.Host, c.Port)
		if err != nil {
			c.scope().debug("failed to connect", "error", err)
			return err
		}
		return nil
	}, RetryCount, func(err error) error {
		c.scope().debug("failed to connect, retrying shortly", "error", err)
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}, func() error {
		c.scope().debug("retrying connection now")
		return nil
	})
	if err != nil {
		c.scope().error("failed to establish connection", "host", c.Host, "error", err)
		return fmt.Errorf("gmail dial %s:%d: %w", c.Host, c.Port, err)
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	if err = c.readGreeting(); err != nil {
		_ = conn.Close()
		return err
	}
	c.Connected = true
	return nil
}

func (c *Conn) readGreeting() error {
	if CommandTimeout != 0 {
		_ = c.conn.SetDeadline(time.Now().Add(CommandTimeout))
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("gmail greeting: %w", err)
	}
	line = string(dropNl([]byte(line)))
	c.scope().debug("server greeting", "response", line)

	status, text := splitStatus(strings.TrimPrefix(line, "* "))
	switch {
	case !strings.HasPrefix(line, "* "):
		return fmt.Errorf("gmail greeting: unexpected %q", line)
	case status == "OK", status == "PREAUTH":
		return nil
	default:
		return fmt.Errorf("gmail greeting: server refused connection: %s %s", status, text)
	}
}

// Disconnect closes the connection without logging out.
func (c *Conn) Disconnect() (err error) {
	if c.Connected {
		c.scope().debug("closing connection")
		err = c.conn.Close()
		c.Connected = false
		if err != nil {
			return fmt.Errorf("gmail close: %w", err)
		}
	}
	return nil
}
