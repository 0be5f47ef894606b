package gmail

import (
	"strings"
	"time"
)

// Gmail endpoints used when a Client or strategy is not told otherwise.
const (
	IMAPHost = "imap.gmail.com"
	IMAPPort = 993
	SMTPHost = "smtp.gmail.com"
	SMTPPort = 587

	// DefaultDomain is the HELO domain offered to the SMTP server.
	DefaultDomain = "gmail.com"
)

// AddSlashes escapes backslashes and double quotes for IMAP quoted strings
var AddSlashes = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Verbose outputs every command and its response with the IMAP server
var Verbose = false

// SkipResponses skips printing server responses in verbose mode
var SkipResponses = false

// RetryCount is the number of times establishing a connection is retried.
// Commands, including authentication, are never retried.
var RetryCount = 10

// DialTimeout defines how long to wait when establishing a new connection.
// Zero means no timeout.
var DialTimeout time.Duration

// CommandTimeout defines how long to wait for a command to complete.
// Zero means no timeout.
var CommandTimeout time.Duration

// TLSSkipVerify disables certificate verification when establishing new
// connections. Use with caution; skipping verification exposes the
// connection to man-in-the-middle attacks.
var TLSSkipVerify bool
