package store

import (
	"context"
	"errors"

	"bouncer/internal/model"
)

// ErrMailboxNotFound is returned when a mailbox id does not exist in
// the directory.
var ErrMailboxNotFound = errors.New("mailbox not found")

// Store defines the persistence interface backing the mailbox
// directory, the settings store, and the two append-only log sinks.
type Store interface {
	// === Mailbox directory ===

	CreateMailbox(ctx context.Context, m model.Mailbox) (int64, error)
	GetMailbox(ctx context.Context, id int64) (*model.Mailbox, error)
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)
	DeleteMailbox(ctx context.Context, id int64) error

	// === Settings ===

	GetTestSettings(ctx context.Context) (model.TestModeSettings, error)
	SaveTestSettings(ctx context.Context, s model.TestModeSettings) error
	GetSMTPSettings(ctx context.Context) (model.SMTPRelaySettings, error)
	SaveSMTPSettings(ctx context.Context, s model.SMTPRelaySettings) error

	// === Bounce log sink ===

	AppendBounce(ctx context.Context, rec model.BounceRecord) error
	RecentBounces(ctx context.Context, limit int) ([]model.BounceRecord, error)

	// === Activity log sink ===

	AppendActivity(ctx context.Context, action, details string) error
	RecentActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error)

	Close() error
}
