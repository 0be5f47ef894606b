package gmail

import "strings"

// Transport is the connection a Strategy authenticates and a Client issues
// commands on. Implementations handle one command at a time: Send blocks
// until the server completes the command.
type Transport interface {
	Connect() error
	Send(command string) (*Response, error)
	Disconnect() error
}

// Response is the server's answer to one tagged command.
type Response struct {
	Tag string
	// Status is OK, NO or BAD.
	Status string
	Text   string
	// Lines holds the untagged responses received before completion, with
	// any literals spliced in and the trailing CRLF removed.
	Lines []string
}

// OK reports whether the command completed successfully.
func (r *Response) OK() bool {
	return r != nil && r.Status == "OK"
}

// splitStatus splits a tagged completion into its status and text.
func splitStatus(s string) (status, text string) {
	s = strings.TrimSpace(s)
	status, text, _ = strings.Cut(s, " ")
	return strings.ToUpper(status), text
}
