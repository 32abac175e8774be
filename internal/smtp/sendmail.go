package smtp

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/emersion/go-message/mail"
)

// DefaultSendmailPath is the usual platform mail submission binary.
const DefaultSendmailPath = "/usr/sbin/sendmail"

// SendmailSender submits messages through the local sendmail binary.
// It is the fire-and-forget fallback used when no SMTP relay host is
// configured.
type SendmailSender struct {
	// Path to the sendmail binary; DefaultSendmailPath if empty.
	Path string
}

// Send pipes a fully formed message to sendmail -t, which reads the
// recipients from the headers.
func (s *SendmailSender) Send(msg Message) error {
	raw, err := buildMessage(msg)
	if err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	path := s.Path
	if path == "" {
		path = DefaultSendmailPath
	}

	cmd := exec.Command(path, "-t")
	cmd.Stdin = bytes.NewReader(raw)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", path, err)
	}
	return nil
}

// buildMessage renders the notification as an RFC 2822 message.
func buildMessage(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{
		{Name: msg.FromName, Address: msg.FromEmail},
	})

	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
