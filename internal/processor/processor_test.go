package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"

	"bouncer/internal/classify"
	"bouncer/internal/imapx"
	"bouncer/internal/model"
	"bouncer/internal/smtp"
	"bouncer/internal/store"
)

// fakeSession is a scripted IMAP session for scan tests.
type fakeSession struct {
	uids      []imap.UID
	envelopes map[imap.UID]*imap.Envelope
	headers   map[imap.UID][]byte

	searchErr error

	moves    map[imap.UID]string
	expunged bool
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		envelopes: make(map[imap.UID]*imap.Envelope),
		headers:   make(map[imap.UID][]byte),
		moves:     make(map[imap.UID]string),
	}
}

func (f *fakeSession) addMessage(uid imap.UID, from, subject, header string) {
	f.uids = append(f.uids, uid)
	f.envelopes[uid] = &imap.Envelope{
		Subject: subject,
		From:    []imap.Address{addr(from)},
	}
	f.headers[uid] = []byte(header)
}

func addr(s string) imap.Address {
	at := strings.IndexByte(s, '@')
	return imap.Address{Mailbox: s[:at], Host: s[at+1:]}
}

func (f *fakeSession) Messages() ([]imap.UID, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.uids, nil
}

func (f *fakeSession) Envelope(uid imap.UID) (*imap.Envelope, error) {
	env, ok := f.envelopes[uid]
	if !ok {
		return nil, fmt.Errorf("no such message %d", uid)
	}
	return env, nil
}

func (f *fakeSession) Structure(imap.UID) (imap.BodyStructure, error) {
	return nil, errors.New("no structure")
}

func (f *fakeSession) FetchPart(imap.UID, []int) ([]byte, error) {
	return nil, errors.New("no such part")
}

func (f *fakeSession) FetchHeader(uid imap.UID) ([]byte, error) {
	h, ok := f.headers[uid]
	if !ok {
		return nil, fmt.Errorf("no header for %d", uid)
	}
	return h, nil
}

func (f *fakeSession) Move(uid imap.UID, folder string) error {
	f.moves[uid] = folder
	return nil
}

func (f *fakeSession) Expunge() error {
	f.expunged = true
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// fakeSender records notification sends.
type fakeSender struct {
	sent    []smtp.Message
	sendErr error
}

func (f *fakeSender) Send(msg smtp.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

// settingsSource wraps the store's settings reads with injectable
// failures.
type settingsSource struct {
	st      *store.SQLiteStore
	testErr error
}

func (s *settingsSource) GetTestSettings(ctx context.Context) (model.TestModeSettings, error) {
	if s.testErr != nil {
		return model.TestModeSettings{}, s.testErr
	}
	return s.st.GetTestSettings(ctx)
}

func (s *settingsSource) GetSMTPSettings(ctx context.Context) (model.SMTPRelaySettings, error) {
	return s.st.GetSMTPSettings(ctx)
}

type fixture struct {
	st       *store.SQLiteStore
	settings *settingsSource
	sess     *fakeSession
	sender   *fakeSender
	proc     *Processor

	mailboxID int64
	dialErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	id, err := st.CreateMailbox(context.Background(), model.Mailbox{
		Name:     "support",
		Host:     "imap.example.com",
		Port:     993,
		Username: "bounce@example.com",
		Secret:   "hunter2",
	})
	if err != nil {
		t.Fatalf("creating mailbox: %v", err)
	}

	f := &fixture{
		st:        st,
		settings:  &settingsSource{st: st},
		sess:      newFakeSession(),
		sender:    &fakeSender{},
		mailboxID: id,
	}
	f.proc = New(Deps{
		Directory:  st,
		Settings:   f.settings,
		Bounces:    st,
		Activity:   st,
		Classifier: classify.New(model.DefaultBouncePatterns(), model.DefaultAutoReplyPatterns()),
		Dial: func(model.Mailbox, string) (imapx.Session, error) {
			if f.dialErr != nil {
				return nil, f.dialErr
			}
			return f.sess, nil
		},
		NewSender:     func(model.SMTPRelaySettings) smtp.Sender { return f.sender },
		ResolveSecret: func(s string) (string, error) { return s, nil },
	})
	return f
}

const bounceHeader = "To: alice@example.org\r\n" +
	"Cc: bob@example.org, carol@example.org\r\n" +
	"Subject: Weekly report\r\n\r\n"

func (f *fixture) run(t *testing.T) model.ScanResult {
	t.Helper()
	return f.proc.Run(context.Background(), f.mailboxID)
}

func TestRunProcessesBounce(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	res := f.run(t)

	if res.Err != "" {
		t.Fatalf("unexpected error: %q", res.Err)
	}
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}

	recs, err := f.st.RecentBounces(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing bounces: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d bounce records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Sender != "mailer-daemon@example.com" {
		t.Errorf("Sender = %q", rec.Sender)
	}
	if rec.OrigTo != "alice@example.org" {
		t.Errorf("OrigTo = %q", rec.OrigTo)
	}
	if rec.CcAddresses != "bob@example.org,carol@example.org" {
		t.Errorf("CcAddresses = %q", rec.CcAddresses)
	}
	if rec.Code != "550" || rec.Message != "Mailbox unavailable" {
		t.Errorf("diagnostic = %q %q", rec.Code, rec.Message)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.sender.sent))
	}
	sent := f.sender.sent[0]
	if len(sent.To) != 2 || sent.To[0] != "bob@example.org" {
		t.Errorf("notification To = %v", sent.To)
	}
	if sent.FromEmail != "bounce@example.com" {
		t.Errorf("notification FromEmail = %q", sent.FromEmail)
	}
	if !strings.Contains(sent.Body, "alice@example.org") {
		t.Errorf("notification body missing original recipient: %q", sent.Body)
	}

	if f.sess.moves[1] != "Processed" {
		t.Errorf("moved to %q, want Processed", f.sess.moves[1])
	}
	if !f.sess.expunged {
		t.Error("expected expunge")
	}
	if !f.sess.closed {
		t.Error("expected session close")
	}
}

func TestRunSkipsNonBounce(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "alice@example.org", "Lunch on Friday?", "")

	res := f.run(t)

	if res.Processed != 0 {
		t.Fatalf("Processed = %d, want 0", res.Processed)
	}
	if f.sess.moves[1] != "Skipped" {
		t.Errorf("moved to %q, want Skipped", f.sess.moves[1])
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("unexpected notification")
	}
}

func TestRunSkipsAutoReply(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "bob@example.org", "Automatic reply: Mail delivery failed", "")

	res := f.run(t)

	if res.Processed != 0 {
		t.Fatalf("Processed = %d, want 0", res.Processed)
	}
	if f.sess.moves[1] != "Skipped" {
		t.Errorf("moved to %q, want Skipped", f.sess.moves[1])
	}

	recs, _ := f.st.RecentBounces(context.Background(), 10)
	if len(recs) != 0 {
		t.Errorf("auto-reply recorded as bounce")
	}
}

func TestRunTestModeLeavesMailboxUntouched(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	err := f.st.SaveTestSettings(context.Background(), model.TestModeSettings{
		Enabled:    true,
		Recipients: "qa@example.com, ops@example.com",
	})
	if err != nil {
		t.Fatalf("saving test settings: %v", err)
	}

	res := f.run(t)

	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
	if len(f.sess.moves) != 0 {
		t.Errorf("moved messages in test mode: %v", f.sess.moves)
	}
	if f.sess.expunged {
		t.Error("expunged in test mode")
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.sender.sent))
	}
	to := f.sender.sent[0].To
	if len(to) != 2 || to[0] != "qa@example.com" || to[1] != "ops@example.com" {
		t.Errorf("notification To = %v, want override recipients", to)
	}

	// Extraction is skipped, so the record carries no recipient data.
	recs, _ := f.st.RecentBounces(context.Background(), 10)
	if len(recs) != 1 {
		t.Fatalf("got %d bounce records, want 1", len(recs))
	}
	if recs[0].OrigTo != "" || recs[0].CcAddresses != "" {
		t.Errorf("test mode record has recipient data: %+v", recs[0])
	}
}

func TestRunTestModeWithoutRecipientsSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	err := f.st.SaveTestSettings(context.Background(), model.TestModeSettings{Enabled: true})
	if err != nil {
		t.Fatalf("saving test settings: %v", err)
	}

	res := f.run(t)

	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("unexpected notification: %v", f.sender.sent)
	}
}

func TestRunNoCcSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed",
		"To: alice@example.org\r\nSubject: Weekly report\r\n\r\n")

	res := f.run(t)

	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("unexpected notification: %v", f.sender.sent)
	}
	if f.sess.moves[1] != "Processed" {
		t.Errorf("moved to %q, want Processed", f.sess.moves[1])
	}
}

func TestRunAbortsWhenTestSettingsUnreadable(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	// An operator has a dry run configured, but the settings read
	// fails transiently. The scan must not fall back to live mode.
	err := f.st.SaveTestSettings(context.Background(), model.TestModeSettings{
		Enabled:    true,
		Recipients: "qa@example.com",
	})
	if err != nil {
		t.Fatalf("saving test settings: %v", err)
	}
	f.settings.testErr = errors.New("database is locked")

	res := f.run(t)

	if !strings.HasPrefix(res.Err, "reading test settings:") {
		t.Fatalf("Err = %q, want settings read failure", res.Err)
	}
	if res.Processed != 0 {
		t.Fatalf("Processed = %d, want 0", res.Processed)
	}
	if len(f.sess.moves) != 0 {
		t.Errorf("messages moved despite aborted run: %v", f.sess.moves)
	}
	if f.sess.expunged {
		t.Error("expunged despite aborted run")
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("notification sent despite aborted run: %v", f.sender.sent)
	}
}

func TestRunMailboxNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.proc.Run(context.Background(), 9999)

	if res.Err != "Mailbox not found" {
		t.Fatalf("Err = %q, want %q", res.Err, "Mailbox not found")
	}
}

func TestRunConnectionFailure(t *testing.T) {
	f := newFixture(t)
	f.dialErr = errors.New("connection refused")

	res := f.run(t)

	if !strings.HasPrefix(res.Err, "IMAP connection failed:") {
		t.Fatalf("Err = %q", res.Err)
	}
	if !strings.Contains(res.Err, "connection refused") {
		t.Fatalf("Err = %q, want dial error included", res.Err)
	}
}

func TestRunSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.sess.searchErr = errors.New("BAD search")

	res := f.run(t)

	if !strings.HasPrefix(res.Err, "IMAP search failed:") {
		t.Fatalf("Err = %q", res.Err)
	}
	if !f.sess.closed {
		t.Error("session not closed after search failure")
	}
}

func TestRunPerMessageFailureIsolated(t *testing.T) {
	f := newFixture(t)
	// UID 1 has no envelope scripted, so the fetch fails.
	f.sess.uids = append(f.sess.uids, 1)
	f.sess.addMessage(2, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	res := f.run(t)

	if res.Err != "" {
		t.Fatalf("unexpected error: %q", res.Err)
	}
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
}

func TestRunNotificationFailureStillMoves(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)
	f.sender.sendErr = errors.New("relay down")

	res := f.run(t)

	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}
	if f.sess.moves[1] != "Processed" {
		t.Errorf("moved to %q, want Processed", f.sess.moves[1])
	}
}

func TestRunHonorsMessageLimit(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.sess.addMessage(imap.UID(i), "mailer-daemon@example.com",
			"Mail delivery failed", bounceHeader)
	}
	f.proc.deps.MessageLimit = 3

	res := f.run(t)

	if res.Processed != 3 {
		t.Fatalf("Processed = %d, want 3", res.Processed)
	}
}

func TestRunUsesRelayFromAddress(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	err := f.st.SaveSMTPSettings(context.Background(), model.SMTPRelaySettings{
		Host:      "relay.example.com",
		Port:      587,
		FromEmail: "noreply@example.com",
		FromName:  "Bounce Monitor",
	})
	if err != nil {
		t.Fatalf("saving smtp settings: %v", err)
	}

	f.run(t)

	if len(f.sender.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.sender.sent))
	}
	if f.sender.sent[0].FromEmail != "noreply@example.com" {
		t.Errorf("FromEmail = %q", f.sender.sent[0].FromEmail)
	}
	if f.sender.sent[0].FromName != "Bounce Monitor" {
		t.Errorf("FromName = %q", f.sender.sent[0].FromName)
	}
}

func TestRunWritesActivityTrail(t *testing.T) {
	f := newFixture(t)
	f.sess.addMessage(1, "mailer-daemon@example.com", "Mail delivery failed", bounceHeader)

	f.run(t)

	events, err := f.st.RecentActivity(context.Background(), 50)
	if err != nil {
		t.Fatalf("listing activity: %v", err)
	}

	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	for _, want := range []string{"Processing bounce", "Searching", "Bounce detected", "Notification sent", "Message moved", "Expunged"} {
		found := false
		for _, a := range actions {
			if a == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("activity trail missing %q; got %v", want, actions)
		}
	}
}
