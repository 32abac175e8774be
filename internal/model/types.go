package model

import (
	"fmt"
	"strings"
	"time"
)

// Security modes for mail server connections.
const (
	// SecuritySSL wraps the connection in TLS immediately (implicit TLS).
	SecuritySSL = "ssl"

	// SecurityTLS upgrades a plaintext connection via STARTTLS.
	SecurityTLS = "tls"

	// SecurityNone uses a plaintext connection.
	SecurityNone = "none"
)

// Diagnostic code/message pair assigned to every detected bounce.
// Numeric-code extraction from the message body is not performed.
const (
	DiagnosticCode    = "550"
	DiagnosticMessage = "Mailbox unavailable"
)

// Mailbox holds the connection parameters and folder names for one
// monitored IMAP account. Mailboxes are managed by the admin surface
// and read-only to the scan loop.
type Mailbox struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Host     string `db:"host"`
	Port     int    `db:"port"`
	Username string `db:"username"`

	// Secret is the account password, either in plaintext or as a
	// "keyring:<key>" reference resolved at connect time.
	Secret string `db:"secret"`

	// Security is one of SecuritySSL, SecurityTLS, SecurityNone, or
	// empty to infer from the port.
	Security string `db:"security"`

	InboxFolder     string `db:"inbox_folder"`
	ProcessedFolder string `db:"processed_folder"`
	SkippedFolder   string `db:"skipped_folder"`

	// ProblemFolder is reserved; the scan loop does not use it yet.
	ProblemFolder string `db:"problem_folder"`

	CreatedAt time.Time `db:"created_at"`
}

// Addr returns the host:port dial address for the mailbox.
func (m Mailbox) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// EffectiveSecurity resolves the connection security mode. An explicit
// setting wins; otherwise port 993 implies implicit TLS and anything
// else defaults to STARTTLS.
func (m Mailbox) EffectiveSecurity() string {
	switch m.Security {
	case SecuritySSL, SecurityTLS, SecurityNone:
		return m.Security
	}
	if m.Port == 993 {
		return SecuritySSL
	}
	return SecurityTLS
}

// ScanResult is the outcome of one mailbox processor invocation:
// the number of messages handled as bounces and an optional terminal
// error. It is not persisted.
type ScanResult struct {
	Processed int
	Err       string
}

// BounceRecord is one detected bounce, created once and immutable
// thereafter.
type BounceRecord struct {
	ID        string `db:"id"`
	MailboxID int64  `db:"mailbox_id"`
	Sender    string `db:"sender"`
	Subject   string `db:"subject"`
	Code      string `db:"code"`
	Message   string `db:"message"`
	OrigTo    string `db:"original_to"`

	// CcAddresses is the comma-joined Cc list of the embedded
	// original message.
	CcAddresses string    `db:"cc_addresses"`
	CreatedAt   time.Time `db:"created_at"`
}

// ActivityEvent is one append-only audit log entry with a
// server-assigned timestamp.
type ActivityEvent struct {
	ID        int64     `db:"id"`
	Action    string    `db:"action"`
	Details   string    `db:"details"`
	Timestamp time.Time `db:"timestamp"`
}

// TestModeSettings controls dry runs. When enabled, notifications go to
// the override recipients and no IMAP state is mutated.
type TestModeSettings struct {
	Enabled    bool   `db:"enabled"`
	Recipients string `db:"recipients"`
}

// RecipientList returns the override recipients, comma-split and
// trimmed, with empty entries discarded.
func (t TestModeSettings) RecipientList() []string {
	return SplitAddressList(t.Recipients)
}

// SMTPRelaySettings holds the optional custom relay used for
// notifications. An empty host means platform mail submission is used
// instead.
type SMTPRelaySettings struct {
	Host      string `db:"host"`
	Port      int    `db:"port"`
	Username  string `db:"username"`
	Password  string `db:"password"`
	Security  string `db:"security"`
	FromEmail string `db:"from_email"`
	FromName  string `db:"from_name"`
}

// Configured reports whether a custom SMTP relay is set up.
func (s SMTPRelaySettings) Configured() bool {
	return s.Host != ""
}

// SplitAddressList splits a comma-separated address list, trimming
// whitespace and dropping empty entries.
func SplitAddressList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
