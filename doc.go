// Package gmail is an IMAP client for Gmail that understands Gmail's
// vendor extensions.
//
// It covers the protocol-level pieces an application needs before it can
// work with a mailbox:
//
//   - Authenticating over TLS with LOGIN, OAuth 1.0 XOAUTH or OAuth 2.0
//     XOAUTH2, chosen by scheme name through a Registry
//   - Describing the same credentials for SMTP delivery (SMTPSettings)
//   - Parsing FETCH responses, including X-GM-MSGID and X-GM-THRID, into
//     Attributes
//   - Lifting ENVELOPE data into Envelope and Address values, with a Gmail
//     web link per message
//
// A minimal session:
//
//	c, err := gmail.Open(gmail.DefaultRegistry(), "plain", "me@gmail.com",
//		gmail.Options{"password": "app-password"})
//	if err != nil {
//		return err
//	}
//	defer c.Logout()
//	if err := c.ExamineFolder("INBOX"); err != nil {
//		return err
//	}
//	msgs, err := c.UIDFetch("1:*")
//
// Each Client owns one connection and runs one command at a time.
package gmail
