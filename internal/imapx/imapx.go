// Package imapx exposes the narrow IMAP capability the scan loop
// needs, so the processing logic can be exercised against a fake
// implementation without a real IMAP server.
package imapx

import "github.com/emersion/go-imap/v2"

// Session is one authenticated IMAP connection with a folder selected.
// All calls block; the connection is held exclusively for the duration
// of a scan.
type Session interface {
	// Messages returns the UIDs of all messages in the selected
	// folder, in search-result order.
	Messages() ([]imap.UID, error)

	// Envelope fetches the envelope (subject, sender) of one message.
	Envelope(uid imap.UID) (*imap.Envelope, error)

	// Structure fetches the MIME structure tree of one message.
	Structure(uid imap.UID) (imap.BodyStructure, error)

	// FetchPart fetches the raw content of one body part by its
	// part-number path.
	FetchPart(uid imap.UID, part []int) ([]byte, error)

	// FetchHeader fetches the message's top-level header block.
	FetchHeader(uid imap.UID) ([]byte, error)

	// Move moves the message to another folder.
	Move(uid imap.UID, folder string) error

	// Expunge commits pending deletions in the selected folder.
	Expunge() error

	// Close logs out and releases the connection.
	Close() error
}
