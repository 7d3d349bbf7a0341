package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds the text extracted from any single message body.
const maxBodySize = 32 * 1024

// maxRawMessageSize bounds the raw RFC822 bytes buffered from the IMAP
// literal before parsing. The remainder of an oversized literal is
// drained so the IMAP stream stays in sync.
const maxRawMessageSize = 1 * 1024 * 1024

// otpPattern matches a standalone 4-to-8 digit code, the conventional
// shape of a one-time passcode.
var otpPattern = regexp.MustCompile(`\b(\d{4,8})\b`)

// FetchText fetches the plain-text body of a single message by UID.
func (c *Client) FetchText(ctx context.Context, folder string, uid uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}

	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.selectFolder(folder); err != nil {
		return "", err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return "", fmt.Errorf("message UID %d not found in %s", uid, folder)
	}

	var rawBody []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		data, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok || data.Literal == nil {
			continue
		}
		var readErr error
		rawBody, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
		_, _ = io.Copy(io.Discard, data.Literal)
		if readErr != nil {
			c.logger.Debug("error reading body literal", "uid", uid, "error", readErr)
			rawBody = nil
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return "", fmt.Errorf("fetch message UID %d: %w", uid, err)
	}

	if rawBody == nil {
		return "", nil
	}
	return parseTextBody(rawBody)
}

// parseTextBody walks the MIME structure of a raw RFC822 message and
// returns the first text/plain part it finds.
//
// go-message's mail.CreateReader and NextPart may return both a valid
// reader/part AND an error when the message uses an unrecognized
// charset or transfer encoding; those are non-fatal and the content is
// still usable for code extraction.
func parseTextBody(raw []byte) (string, error) {
	mailReader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("create mail reader: %w", err)
	}
	if mailReader == nil {
		return "", fmt.Errorf("create mail reader returned nil")
	}

	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "text/plain" {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize+1))
		if err != nil {
			return "", fmt.Errorf("read text/plain part: %w", err)
		}
		text := string(body)
		if len(body) > maxBodySize {
			text = text[:maxBodySize]
		}
		return strings.TrimSpace(text), nil
	}

	return "", nil
}

// ExtractCode pulls the first standalone 4-to-8 digit run out of text,
// the conventional shape of a one-time passcode. Returns false if no
// candidate is found.
func ExtractCode(text string) (string, bool) {
	m := otpPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// WaitForCode polls the configured folder for a message newer than
// since and returns the first OTP-shaped code found in its body. It
// gives up when ctx is cancelled or the deadline set by the caller
// elapses — callers typically wrap ctx with a ~90s timeout, matching
// the provider-level OTP lookup budget.
func WaitForCode(ctx context.Context, client *Client, folder string, since time.Time, pollInterval time.Duration) (string, error) {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}

	for {
		envelopes, err := client.ListMessages(ctx, ListOptions{Folder: folder, Limit: 5})
		if err != nil {
			return "", err
		}
		for _, env := range envelopes {
			if env.Date.Before(since) {
				continue
			}
			text, err := client.FetchText(ctx, folder, env.UID)
			if err != nil {
				continue
			}
			if code, ok := ExtractCode(text); ok {
				return code, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
