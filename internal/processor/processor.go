// Package processor runs one scan pass over one mailbox: connect,
// search, classify, extract, log, notify, move, expunge.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap/v2"

	"bouncer/internal/classify"
	"bouncer/internal/credential"
	"bouncer/internal/extract"
	"bouncer/internal/imapx"
	"bouncer/internal/model"
	"bouncer/internal/smtp"
	"bouncer/internal/store"
)

// MailboxDirectory resolves mailbox connection parameters by id.
type MailboxDirectory interface {
	GetMailbox(ctx context.Context, id int64) (*model.Mailbox, error)
}

// SettingsSource reads the test mode and SMTP relay configuration.
// Both are read once at the start of a run and treated as a snapshot.
type SettingsSource interface {
	GetTestSettings(ctx context.Context) (model.TestModeSettings, error)
	GetSMTPSettings(ctx context.Context) (model.SMTPRelaySettings, error)
}

// BounceLog is the append-only structured record sink.
type BounceLog interface {
	AppendBounce(ctx context.Context, rec model.BounceRecord) error
}

// ActivityLog is the append-only audit event sink.
type ActivityLog interface {
	AppendActivity(ctx context.Context, action, details string) error
}

// DialFunc opens an authenticated IMAP session for a mailbox.
type DialFunc func(mb model.Mailbox, password string) (imapx.Session, error)

// SenderFunc builds the notification sender for a relay configuration.
type SenderFunc func(st model.SMTPRelaySettings) smtp.Sender

// Deps wires the processor's collaborators. Zero fields for Dial,
// NewSender, ResolveSecret, and Log get production defaults.
type Deps struct {
	Directory  MailboxDirectory
	Settings   SettingsSource
	Bounces    BounceLog
	Activity   ActivityLog
	Classifier *classify.Classifier

	Dial          DialFunc
	NewSender     SenderFunc
	ResolveSecret func(secret string) (string, error)

	// MessageLimit caps messages examined per run; 0 means the
	// default of 50.
	MessageLimit int

	// LocalName is announced in SMTP EHLO.
	LocalName string

	// SendmailPath overrides the platform mail binary.
	SendmailPath string

	Log *slog.Logger
}

// Processor orchestrates scan passes. One Run holds its IMAP
// connection exclusively; callers must serialize runs per mailbox id.
type Processor struct {
	deps Deps
}

// New creates a Processor, filling in default collaborators.
func New(deps Deps) *Processor {
	if deps.Dial == nil {
		deps.Dial = imapx.Dial
	}
	if deps.NewSender == nil {
		localName := deps.LocalName
		sendmailPath := deps.SendmailPath
		deps.NewSender = func(st model.SMTPRelaySettings) smtp.Sender {
			return smtp.NewSender(st, localName, sendmailPath)
		}
	}
	if deps.ResolveSecret == nil {
		deps.ResolveSecret = credential.Resolve
	}
	if deps.MessageLimit <= 0 {
		deps.MessageLimit = 50
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Processor{deps: deps}
}

// Run performs one scan pass and returns the number of bounces
// processed plus an optional terminal error. Structural failures
// (mailbox lookup, connect, search) abort the run; per-message
// failures are isolated. No failure escapes as an error value or
// panic.
func (p *Processor) Run(ctx context.Context, mailboxID int64) model.ScanResult {
	p.activity(ctx, "Processing bounce",
		fmt.Sprintf("Started processing mailbox ID: %d", mailboxID))

	mb, err := p.deps.Directory.GetMailbox(ctx, mailboxID)
	if errors.Is(err, store.ErrMailboxNotFound) {
		p.activity(ctx, "Error processing bounce",
			fmt.Sprintf("Mailbox %d not found", mailboxID))
		return model.ScanResult{Err: "Mailbox not found"}
	}
	if err != nil {
		msg := fmt.Sprintf("reading mailbox %d: %v", mailboxID, err)
		p.activity(ctx, "Error processing bounce", msg)
		return model.ScanResult{Err: msg}
	}

	// Settings snapshot for this run. An unreadable test mode setting
	// is a structural failure: proceeding without it could mutate a
	// mailbox that an operator put into a dry run.
	test, err := p.deps.Settings.GetTestSettings(ctx)
	if err != nil {
		msg := fmt.Sprintf("reading test settings: %v", err)
		p.activity(ctx, "Error processing bounce", msg)
		return model.ScanResult{Err: msg}
	}
	relay, err := p.deps.Settings.GetSMTPSettings(ctx)
	if err != nil {
		p.deps.Log.Warn("reading smtp settings", "error", err)
		relay = model.SMTPRelaySettings{}
	}
	if relay.Configured() {
		pw, err := p.deps.ResolveSecret(relay.Password)
		if err != nil {
			p.deps.Log.Warn("resolving relay password", "error", err)
		} else {
			relay.Password = pw
		}
	}

	password, err := p.deps.ResolveSecret(mb.Secret)
	if err != nil {
		msg := fmt.Sprintf("resolving mailbox secret: %v", err)
		p.activity(ctx, "Error processing bounce", msg)
		return model.ScanResult{Err: msg}
	}

	sess, err := p.deps.Dial(*mb, password)
	if err != nil {
		msg := fmt.Sprintf("IMAP connection failed: %v", err)
		p.activity(ctx, "Error processing bounce", msg)
		return model.ScanResult{Err: msg}
	}
	p.activity(ctx, "Connected", fmt.Sprintf("Mailbox %s (%s)", mb.Name, mb.Addr()))

	uids, err := sess.Messages()
	if err != nil {
		_ = sess.Close()
		msg := fmt.Sprintf("IMAP search failed: %v", err)
		p.activity(ctx, "Error processing bounce", msg)
		return model.ScanResult{Err: msg}
	}
	p.activity(ctx, "Searching",
		fmt.Sprintf("Mailbox %s: %d messages", mb.Name, len(uids)))

	sender := p.deps.NewSender(relay)

	processed := 0
	examined := 0
	for _, uid := range uids {
		if examined >= p.deps.MessageLimit {
			break
		}
		examined++
		if p.handleMessage(ctx, sess, uid, mb, test, relay, sender) {
			processed++
		}
	}

	if !test.Enabled {
		if err := sess.Expunge(); err != nil {
			p.activity(ctx, "Error expunging",
				fmt.Sprintf("Mailbox %s: %v", mb.Name, err))
		} else {
			p.activity(ctx, "Expunged", mb.Name)
		}
	}

	if err := sess.Close(); err != nil {
		p.deps.Log.Warn("closing IMAP session", "mailbox", mb.Name, "error", err)
	}

	p.activity(ctx, "Processing bounce",
		fmt.Sprintf("Processed %d bounces for mailbox: %s", processed, mb.Name))
	return model.ScanResult{Processed: processed}
}

// handleMessage classifies and, for bounces, extracts, records,
// notifies, and moves one message. Returns true if the message was
// processed as a bounce. Failures here never abort the scan.
func (p *Processor) handleMessage(
	ctx context.Context,
	sess imapx.Session,
	uid imap.UID,
	mb *model.Mailbox,
	test model.TestModeSettings,
	relay model.SMTPRelaySettings,
	sender smtp.Sender,
) bool {
	env, err := sess.Envelope(uid)
	if err != nil {
		p.activity(ctx, "Error reading message",
			fmt.Sprintf("UID %d: %v", uid, err))
		return false
	}

	subject := env.Subject
	var from string
	if len(env.From) > 0 {
		from = env.From[0].Addr()
	}

	if p.deps.Classifier.IsAutoReply(subject) {
		p.activity(ctx, "Auto-reply skipped", subject)
		p.moveUnlessTest(ctx, sess, uid, mb.SkippedFolder, test)
		return false
	}

	if !p.deps.Classifier.IsBounce(subject) {
		p.activity(ctx, "Message skipped", subject)
		p.moveUnlessTest(ctx, sess, uid, mb.SkippedFolder, test)
		return false
	}

	// Test mode skips extraction entirely.
	var res extract.Result
	if !test.Enabled {
		res = extract.OriginalHeaders(sess, uid)
	}

	rec := model.BounceRecord{
		MailboxID:   mb.ID,
		Sender:      from,
		Subject:     subject,
		Code:        model.DiagnosticCode,
		Message:     model.DiagnosticMessage,
		OrigTo:      res.To,
		CcAddresses: strings.Join(res.Cc, ","),
	}
	if err := p.deps.Bounces.AppendBounce(ctx, rec); err != nil {
		// Record writes never fail a scan.
		p.deps.Log.Warn("writing bounce record", "error", err)
	}

	detail := subject
	if test.Enabled {
		detail += " (test mode)"
	} else {
		detail += fmt.Sprintf(" (original to: %s, via %s)", res.To, res.Strategy)
	}
	p.activity(ctx, "Bounce detected", detail)

	var recipients []string
	switch {
	case test.Enabled && len(test.RecipientList()) > 0:
		recipients = test.RecipientList()
	case !test.Enabled && len(res.Cc) > 0:
		recipients = res.Cc
	}

	if len(recipients) > 0 {
		msg := smtp.Message{
			FromEmail: p.fromAddress(relay, mb),
			FromName:  relay.FromName,
			To:        recipients,
			Subject:   "Bounce notification: " + subject,
			Body:      notificationBody(mb, from, subject, res),
		}
		if err := sender.Send(msg); err != nil {
			p.activity(ctx, "Notification failed",
				fmt.Sprintf("%s: %v", strings.Join(recipients, ","), err))
		} else {
			p.activity(ctx, "Notification sent", strings.Join(recipients, ","))
		}
	} else {
		p.activity(ctx, "Notification skipped", "no recipients")
	}

	if !test.Enabled {
		if err := sess.Move(uid, mb.ProcessedFolder); err != nil {
			p.activity(ctx, "Error moving message",
				fmt.Sprintf("UID %d to %s: %v", uid, mb.ProcessedFolder, err))
		} else {
			p.activity(ctx, "Message moved", mb.ProcessedFolder)
		}
	}

	return true
}

// moveUnlessTest moves a message unless test mode keeps the mailbox
// untouched.
func (p *Processor) moveUnlessTest(
	ctx context.Context,
	sess imapx.Session,
	uid imap.UID,
	folder string,
	test model.TestModeSettings,
) {
	if test.Enabled {
		return
	}
	if err := sess.Move(uid, folder); err != nil {
		p.activity(ctx, "Error moving message",
			fmt.Sprintf("UID %d to %s: %v", uid, folder, err))
	}
}

// fromAddress picks the notification sender address: the relay
// override when set, the scanned account otherwise.
func (p *Processor) fromAddress(relay model.SMTPRelaySettings, mb *model.Mailbox) string {
	if relay.FromEmail != "" {
		return relay.FromEmail
	}
	return mb.Username
}

// notificationBody renders the plaintext notification.
func notificationBody(mb *model.Mailbox, from, subject string, res extract.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A delivery failure was detected in mailbox %q.\n\n", mb.Name)
	fmt.Fprintf(&b, "Sender:  %s\n", from)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	if res.To != "" {
		fmt.Fprintf(&b, "Original recipient: %s\n", res.To)
	}
	if len(res.Cc) > 0 {
		fmt.Fprintf(&b, "Original Cc: %s\n", strings.Join(res.Cc, ", "))
	}
	fmt.Fprintf(&b, "Diagnostic: %s %s\n", model.DiagnosticCode, model.DiagnosticMessage)
	return b.String()
}

// activity appends one audit event. Sink failures are logged and
// swallowed.
func (p *Processor) activity(ctx context.Context, action, details string) {
	if err := p.deps.Activity.AppendActivity(ctx, action, details); err != nil {
		p.deps.Log.Warn("writing activity event",
			"action", action, "error", err)
	}
}
