package adapter

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/mail"
	"strings"

	"github.com/caseward/forensics-cli/internal/model"
)

// maxLineBytes bounds a single mailbox line; longer lines mean a corrupt or
// hostile archive, not a legitimate message.
const maxLineBytes = 1 << 20

// MailboxAdapter parses mboxrd-style mailbox archives: messages separated by
// "From " lines, RFC-822 headers per message. The archive is consumed one
// message at a time; only the current message is held in memory.
type MailboxAdapter struct{}

// NewMailbox creates the mailbox-archive adapter.
func NewMailbox() *MailboxAdapter {
	return &MailboxAdapter{}
}

func (a *MailboxAdapter) Kind() model.SourceKind {
	return model.KindMailbox
}

func (a *MailboxAdapter) Parse(ctx context.Context, r io.Reader) (<-chan RawRecord, <-chan error) {
	recCh := make(chan RawRecord, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		// The first non-empty line must be a message boundary, otherwise this
		// is not a mailbox container at all.
		var cur bytes.Buffer
		started := false
		flush := func() {
			if cur.Len() == 0 {
				return
			}
			send(ctx, recCh, parseMailMessage(cur.Bytes()))
			cur.Reset()
		}

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()

			if !started {
				if strings.TrimSpace(line) == "" {
					continue
				}
				if !strings.HasPrefix(line, "From ") {
					errCh <- unreadable(model.KindMailbox, "missing mbox From separator on first line", nil)
					return
				}
				started = true
				continue
			}

			if strings.HasPrefix(line, "From ") {
				flush()
				continue
			}

			// mboxrd quoting: ">From" at line start unescapes by one level.
			if strings.HasPrefix(line, ">") && strings.HasPrefix(strings.TrimLeft(line, ">"), "From ") {
				line = line[1:]
			}
			cur.WriteString(line)
			cur.WriteByte('\n')
		}

		if err := scanner.Err(); err != nil {
			errCh <- unreadable(model.KindMailbox, "read archive", err)
			return
		}
		if !started {
			errCh <- unreadable(model.KindMailbox, "empty archive", nil)
			return
		}
		flush()
	}()

	return recCh, errCh
}

// parseMailMessage turns one raw RFC-822 message into a RawRecord. A message
// whose headers cannot be parsed, or which names no sender, is corrupt.
func parseMailMessage(raw []byte) RawRecord {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return RawRecord{Corrupt: true, CorruptReason: "unparseable headers: " + err.Error()}
	}

	sender := strings.TrimSpace(msg.Header.Get("From"))
	if sender == "" {
		return RawRecord{Corrupt: true, CorruptReason: "missing From header"}
	}
	if addr, addrErr := mail.ParseAddress(sender); addrErr == nil {
		sender = addr.Address
	}

	var recipients []string
	for _, field := range []string{"To", "Cc"} {
		v := msg.Header.Get(field)
		if v == "" {
			continue
		}
		if addrs, addrErr := mail.ParseAddressList(v); addrErr == nil {
			for _, addr := range addrs {
				recipients = append(recipients, addr.Address)
			}
			continue
		}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				recipients = append(recipients, part)
			}
		}
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return RawRecord{Corrupt: true, CorruptReason: "truncated body: " + err.Error()}
	}

	headerEnd := bytes.Index(raw, []byte("\n\n"))
	if headerEnd < 0 {
		headerEnd = len(raw)
	}

	return RawRecord{
		Sender:     sender,
		Recipients: recipients,
		Timestamp:  msg.Header.Get("Date"),
		Body:       strings.TrimRight(string(body), "\n"),
		RawHeader:  append([]byte(nil), raw[:headerEnd]...),
		Deleted:    headerFlagSet(msg.Header, "X-Deleted"),
	}
}

func headerFlagSet(h mail.Header, key string) bool {
	switch strings.ToLower(strings.TrimSpace(h.Get(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
