package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"bouncer/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CreateMailbox inserts a new mailbox and returns its assigned id.
// Empty folder names fall back to the usual defaults.
func (s *SQLiteStore) CreateMailbox(ctx context.Context, m model.Mailbox) (int64, error) {
	if m.InboxFolder == "" {
		m.InboxFolder = "INBOX"
	}
	if m.ProcessedFolder == "" {
		m.ProcessedFolder = "Processed"
	}
	if m.SkippedFolder == "" {
		m.SkippedFolder = "Skipped"
	}
	if m.ProblemFolder == "" {
		m.ProblemFolder = "Problem"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mailboxes (
			name, host, port, username, secret, security,
			inbox_folder, processed_folder, skipped_folder, problem_folder,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Host, m.Port, m.Username, m.Secret, m.Security,
		m.InboxFolder, m.ProcessedFolder, m.SkippedFolder, m.ProblemFolder,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("creating mailbox %q: %w", m.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading mailbox id: %w", err)
	}
	return id, nil
}

// GetMailbox retrieves a single mailbox by id. Returns
// ErrMailboxNotFound if no such row exists.
func (s *SQLiteStore) GetMailbox(ctx context.Context, id int64) (*model.Mailbox, error) {
	var m model.Mailbox
	err := s.db.GetContext(ctx, &m, "SELECT * FROM mailboxes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting mailbox %d: %w", id, err)
	}
	return &m, nil
}

// ListMailboxes retrieves all configured mailboxes ordered by name.
func (s *SQLiteStore) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var boxes []model.Mailbox
	err := s.db.SelectContext(ctx, &boxes, "SELECT * FROM mailboxes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	return boxes, nil
}

// DeleteMailbox removes a mailbox by id.
func (s *SQLiteStore) DeleteMailbox(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mailboxes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting mailbox %d: %w", id, err)
	}
	return nil
}

// GetTestSettings reads the singleton test mode row.
func (s *SQLiteStore) GetTestSettings(ctx context.Context) (model.TestModeSettings, error) {
	var row struct {
		Enabled    int    `db:"enabled"`
		Recipients string `db:"recipients"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT enabled, recipients FROM test_settings WHERE id = 1")
	if err != nil {
		return model.TestModeSettings{}, fmt.Errorf("reading test settings: %w", err)
	}
	return model.TestModeSettings{
		Enabled:    row.Enabled != 0,
		Recipients: row.Recipients,
	}, nil
}

// SaveTestSettings updates the singleton test mode row.
func (s *SQLiteStore) SaveTestSettings(ctx context.Context, t model.TestModeSettings) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE test_settings SET enabled = ?, recipients = ? WHERE id = 1",
		boolToInt(t.Enabled), t.Recipients,
	)
	if err != nil {
		return fmt.Errorf("saving test settings: %w", err)
	}
	return nil
}

// GetSMTPSettings reads the singleton SMTP relay row.
func (s *SQLiteStore) GetSMTPSettings(ctx context.Context) (model.SMTPRelaySettings, error) {
	var st model.SMTPRelaySettings
	err := s.db.GetContext(ctx, &st, `
		SELECT host, port, username, password, security, from_email, from_name
		FROM smtp_settings WHERE id = 1`)
	if err != nil {
		return model.SMTPRelaySettings{}, fmt.Errorf("reading smtp settings: %w", err)
	}
	return st, nil
}

// SaveSMTPSettings updates the singleton SMTP relay row.
func (s *SQLiteStore) SaveSMTPSettings(ctx context.Context, st model.SMTPRelaySettings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE smtp_settings SET
			host = ?, port = ?, username = ?, password = ?,
			security = ?, from_email = ?, from_name = ?
		WHERE id = 1`,
		st.Host, st.Port, st.Username, st.Password,
		st.Security, st.FromEmail, st.FromName,
	)
	if err != nil {
		return fmt.Errorf("saving smtp settings: %w", err)
	}
	return nil
}

// AppendBounce inserts a new bounce record. If the record has no ID,
// a new UUID is generated.
func (s *SQLiteStore) AppendBounce(ctx context.Context, rec model.BounceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bounce_records (
			id, mailbox_id, sender, subject, code, message,
			original_to, cc_addresses, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MailboxID, rec.Sender, rec.Subject, rec.Code, rec.Message,
		rec.OrigTo, rec.CcAddresses, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending bounce record: %w", err)
	}
	return nil
}

// RecentBounces retrieves the most recent bounce records, newest first.
func (s *SQLiteStore) RecentBounces(ctx context.Context, limit int) ([]model.BounceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []model.BounceRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM bounce_records ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing bounce records: %w", err)
	}
	return recs, nil
}

// AppendActivity inserts one activity event with the current time.
func (s *SQLiteStore) AppendActivity(ctx context.Context, action, details string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activity_log (action, details, timestamp) VALUES (?, ?, ?)",
		action, details, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending activity event: %w", err)
	}
	return nil
}

// RecentActivity retrieves the most recent activity events, newest first.
func (s *SQLiteStore) RecentActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []model.ActivityEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM activity_log ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity events: %w", err)
	}
	return events, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
