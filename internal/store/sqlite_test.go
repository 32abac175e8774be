package store

import (
	"context"
	"errors"
	"testing"

	"bouncer/internal/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func TestMailboxCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateMailbox(ctx, model.Mailbox{
		Name:     "support",
		Host:     "imap.example.com",
		Port:     993,
		Username: "support@example.com",
		Secret:   "hunter2",
	})
	if err != nil {
		t.Fatalf("CreateMailbox: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero mailbox id")
	}

	mb, err := s.GetMailbox(ctx, id)
	if err != nil {
		t.Fatalf("GetMailbox: %v", err)
	}
	if mb.Name != "support" || mb.Host != "imap.example.com" || mb.Port != 993 {
		t.Fatalf("unexpected mailbox: %+v", mb)
	}
	if mb.InboxFolder != "INBOX" || mb.ProcessedFolder != "Processed" || mb.SkippedFolder != "Skipped" {
		t.Fatalf("folder defaults not applied: %+v", mb)
	}
	if mb.EffectiveSecurity() != model.SecuritySSL {
		t.Fatalf("port 993 should imply ssl, got %q", mb.EffectiveSecurity())
	}

	boxes, err := s.ListMailboxes(ctx)
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 mailbox, got %d", len(boxes))
	}

	if err := s.DeleteMailbox(ctx, id); err != nil {
		t.Fatalf("DeleteMailbox: %v", err)
	}
	if _, err := s.GetMailbox(ctx, id); !errors.Is(err, ErrMailboxNotFound) {
		t.Fatalf("expected ErrMailboxNotFound, got %v", err)
	}
}

func TestGetMailboxNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetMailbox(context.Background(), 42)
	if !errors.Is(err, ErrMailboxNotFound) {
		t.Fatalf("expected ErrMailboxNotFound, got %v", err)
	}
}

func TestTestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ts, err := s.GetTestSettings(ctx)
	if err != nil {
		t.Fatalf("GetTestSettings: %v", err)
	}
	if ts.Enabled {
		t.Fatal("test mode should default to disabled")
	}

	want := model.TestModeSettings{Enabled: true, Recipients: "qa@test.com, dev@test.com"}
	if err := s.SaveTestSettings(ctx, want); err != nil {
		t.Fatalf("SaveTestSettings: %v", err)
	}

	got, err := s.GetTestSettings(ctx)
	if err != nil {
		t.Fatalf("GetTestSettings: %v", err)
	}
	if !got.Enabled || got.Recipients != want.Recipients {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	recips := got.RecipientList()
	if len(recips) != 2 || recips[0] != "qa@test.com" || recips[1] != "dev@test.com" {
		t.Fatalf("unexpected recipient list: %v", recips)
	}
}

func TestSMTPSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	st, err := s.GetSMTPSettings(ctx)
	if err != nil {
		t.Fatalf("GetSMTPSettings: %v", err)
	}
	if st.Configured() {
		t.Fatal("relay should not be configured by default")
	}

	want := model.SMTPRelaySettings{
		Host:      "smtp.example.com",
		Port:      587,
		Username:  "relay",
		Password:  "secret",
		Security:  model.SecurityTLS,
		FromEmail: "bounces@example.com",
		FromName:  "Bounce Processor",
	}
	if err := s.SaveSMTPSettings(ctx, want); err != nil {
		t.Fatalf("SaveSMTPSettings: %v", err)
	}

	got, err := s.GetSMTPSettings(ctx)
	if err != nil {
		t.Fatalf("GetSMTPSettings: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestBounceLogAppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.AppendBounce(ctx, model.BounceRecord{
			MailboxID:   7,
			Sender:      "mailer-daemon@example.com",
			Subject:     "Mail Delivery Failed",
			Code:        model.DiagnosticCode,
			Message:     model.DiagnosticMessage,
			OrigTo:      "user@x.com",
			CcAddresses: "a@x.com,b@x.com",
		})
		if err != nil {
			t.Fatalf("AppendBounce: %v", err)
		}
	}

	recs, err := s.RecentBounces(ctx, 10)
	if err != nil {
		t.Fatalf("RecentBounces: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.ID == "" {
			t.Fatal("record id should be assigned on append")
		}
		if r.Code != "550" || r.Message != "Mailbox unavailable" {
			t.Fatalf("unexpected diagnostic pair: %q / %q", r.Code, r.Message)
		}
		if r.CcAddresses != "a@x.com,b@x.com" {
			t.Fatalf("unexpected cc_addresses: %q", r.CcAddresses)
		}
	}

	limited, err := s.RecentBounces(ctx, 2)
	if err != nil {
		t.Fatalf("RecentBounces limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 records, got %d", len(limited))
	}
}

func TestActivityLogAppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AppendActivity(ctx, "Connecting", "mailbox 1"); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}
	if err := s.AppendActivity(ctx, "Searching", "5 messages"); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	events, err := s.RecentActivity(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].Action != "Searching" {
		t.Fatalf("expected newest event first, got %q", events[0].Action)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("timestamp should be assigned on append")
	}
}
