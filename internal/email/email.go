// Package email provides a minimal native IMAP reader used to recover
// one-time-passcodes sent by the external booking site during an
// interactive login flow. It is not a general mail client: there is no
// compose/send/search surface, only enough to list recent messages and
// pull a code out of the newest one.
package email

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// drainLiteral reads and discards the contents of an IMAP literal reader.
// This prevents blocking the IMAP stream when a body section is fetched
// but not consumed. Nil readers are handled gracefully.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// Envelope is the summary metadata for an email message.
type Envelope struct {
	// UID is the IMAP unique identifier for this message within its folder.
	UID uint32

	// Date is the message's Date header.
	Date time.Time

	// From is the sender, formatted as "Name <addr>" or just the address.
	From string

	// Subject is the message subject line.
	Subject string
}

// ListOptions controls the behavior of ListMessages.
type ListOptions struct {
	// Folder is the mailbox to list from. Default: "INBOX".
	Folder string

	// Limit is the maximum number of messages to return when SinceUID
	// is zero. Default: 20.
	Limit int

	// SinceUID, when set, restricts results to UIDs strictly greater
	// than this value and ignores Limit. Used for polling.
	SinceUID uint32
}

// formatAddress formats an IMAP address as "Name <user@host>" or just
// "user@host" if no name is set.
func formatAddress(addr imap.Address) string {
	addrStr := addr.Addr()
	if addr.Name != "" {
		return addr.Name + " <" + addrStr + ">"
	}
	return addrStr
}
