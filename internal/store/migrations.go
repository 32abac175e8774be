package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mailboxes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	host             TEXT NOT NULL,
	port             INTEGER NOT NULL,
	username         TEXT NOT NULL,
	secret           TEXT NOT NULL,
	security         TEXT NOT NULL DEFAULT '',
	inbox_folder     TEXT NOT NULL DEFAULT 'INBOX',
	processed_folder TEXT NOT NULL DEFAULT 'Processed',
	skipped_folder   TEXT NOT NULL DEFAULT 'Skipped',
	problem_folder   TEXT NOT NULL DEFAULT 'Problem',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS test_settings (
	id         INTEGER PRIMARY KEY CHECK(id = 1),
	enabled    INTEGER NOT NULL DEFAULT 0,
	recipients TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO test_settings (id, enabled, recipients) VALUES (1, 0, '');

CREATE TABLE IF NOT EXISTS smtp_settings (
	id         INTEGER PRIMARY KEY CHECK(id = 1),
	host       TEXT NOT NULL DEFAULT '',
	port       INTEGER NOT NULL DEFAULT 587,
	username   TEXT NOT NULL DEFAULT '',
	password   TEXT NOT NULL DEFAULT '',
	security   TEXT NOT NULL DEFAULT '',
	from_email TEXT NOT NULL DEFAULT '',
	from_name  TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO smtp_settings (id) VALUES (1);

CREATE TABLE IF NOT EXISTS bounce_records (
	id           TEXT PRIMARY KEY,
	mailbox_id   INTEGER NOT NULL,
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	code         TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	original_to  TEXT NOT NULL DEFAULT '',
	cc_addresses TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS activity_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	action    TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bounce_records_mailbox ON bounce_records(mailbox_id);
CREATE INDEX IF NOT EXISTS idx_bounce_records_created ON bounce_records(created_at);
CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
