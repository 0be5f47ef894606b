package gmail

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

const nl = "\r\n"

var literalRE = regexp.MustCompile(`{\d+}$`)

// newTag returns a command tag: 20 uppercase base32hex characters.
func newTag() string {
	return strings.ToUpper(xid.New().String())
}

// Send issues command and reads until its tagged completion. A NO or BAD
// completion is returned as a Response, not an error; errors mean the
// exchange itself failed and wrap ErrNoResponse when the server went away
// before completing the command. After a failed exchange the connection is
// closed, since any late reply would be read as the answer to the next
// command.
func (c *Conn) Send(command string) (resp *Response, err error) {
	if !c.Connected {
		return nil, ErrNotConnected
	}

	tag := newTag()

	if CommandTimeout != 0 {
		_ = c.conn.SetDeadline(time.Now().Add(CommandTimeout))
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	c.scope().debug("sending command", "command", sanitizeCommand(command))

	if _, err = c.conn.Write([]byte(tag + " " + command + nl)); err != nil {
		c.abandon(command, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrNoResponse, verb(command), err)
	}

	resp = &Response{Tag: tag}
	for {
		var line []byte
		line, err = c.readLine()
		if err != nil {
			c.abandon(command, err)
			return nil, fmt.Errorf("%w: %s: %v", ErrNoResponse, verb(command), err)
		}

		if !SkipResponses {
			c.scope().debug("server response", "response", string(line))
		}

		switch {
		case bytes.HasPrefix(line, []byte(tag+" ")):
			resp.Status, resp.Text = splitStatus(string(line[len(tag)+1:]))
			return resp, nil
		case len(line) > 0 && line[0] == '+':
			// A continuation during AUTHENTICATE carries an error payload;
			// answering with an empty line lets the server send its tagged NO.
			if _, err = c.conn.Write([]byte(nl)); err != nil {
				c.abandon(command, err)
				return nil, fmt.Errorf("%w: %s: %v", ErrNoResponse, verb(command), err)
			}
		default:
			resp.Lines = append(resp.Lines, string(line))
		}
	}
}

// abandon closes a connection whose place in the response stream is lost.
func (c *Conn) abandon(command string, cause error) {
	c.scope().warn("connection lost before completion", "command", verb(command), "error", cause)
	_ = c.conn.Close()
	c.Connected = false
}

// readLine reads one response line, splicing in any literals it announces.
func (c *Conn) readLine() (line []byte, err error) {
	line, err = c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	for {
		a := literalRE.Find(dropNl(line))
		if a == nil {
			break
		}
		var n int
		n, err = strconv.Atoi(string(a[1 : len(a)-1]))
		if err != nil {
			return nil, err
		}

		buf := make([]byte, n)
		if _, err = io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		line = append(line, buf...)

		buf, err = c.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = append(line, buf...)
	}
	return dropNl(line), nil
}

// sanitizeCommand masks credentials before a command is logged.
func sanitizeCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	switch strings.ToUpper(fields[0]) {
	case "LOGIN":
		return "LOGIN ****"
	case "AUTHENTICATE":
		if len(fields) > 2 {
			return "AUTHENTICATE " + fields[1] + " ****"
		}
	}
	return command
}

// verb names a command for logs and errors: its first word, or the first
// two for UID commands.
func verb(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	v := strings.ToUpper(fields[0])
	if v == "UID" && len(fields) > 1 {
		v += " " + strings.ToUpper(fields[1])
	}
	return v
}
