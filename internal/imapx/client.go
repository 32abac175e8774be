package imapx

import (
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"bouncer/internal/model"
)

// Dial connects to the mailbox's IMAP server, authenticates, and
// selects its inbox folder. The security wrapper is derived from the
// mailbox settings: ssl dials TLS directly, tls upgrades via STARTTLS,
// none stays plaintext. The caller must Close the returned session.
func Dial(mb model.Mailbox, password string) (Session, error) {
	addr := mb.Addr()

	var client *imapclient.Client
	var err error

	switch mb.EffectiveSecurity() {
	case model.SecuritySSL:
		client, err = imapclient.DialTLS(addr, nil)
	case model.SecurityNone:
		client, err = imapclient.DialInsecure(addr, nil)
	default:
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(mb.Username, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", mb.Username, err)
	}

	folder := mb.InboxFolder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	return &session{client: client}, nil
}

// session implements Session over a go-imap v2 client.
type session struct {
	client *imapclient.Client
}

func (s *session) Messages() ([]imap.UID, error) {
	// An empty criteria set matches all messages; the scan
	// intentionally revisits seen mail.
	data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *session) Envelope(uid imap.UID) (*imap.Envelope, error) {
	buf, err := s.fetchOne(uid, &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})
	if err != nil {
		return nil, err
	}
	if buf.Envelope == nil {
		return nil, fmt.Errorf("message %d has no envelope", uid)
	}
	return buf.Envelope, nil
}

func (s *session) Structure(uid imap.UID) (imap.BodyStructure, error) {
	buf, err := s.fetchOne(uid, &imap.FetchOptions{
		BodyStructure: &imap.FetchItemBodyStructure{},
		UID:           true,
	})
	if err != nil {
		return nil, err
	}
	if buf.BodyStructure == nil {
		return nil, fmt.Errorf("message %d has no body structure", uid)
	}
	return buf.BodyStructure, nil
}

func (s *session) FetchPart(uid imap.UID, part []int) ([]byte, error) {
	section := &imap.FetchItemBodySection{
		Part: part,
		Peek: true,
	}
	return s.fetchSection(uid, section)
}

func (s *session) FetchHeader(uid imap.UID) ([]byte, error) {
	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	return s.fetchSection(uid, section)
}

func (s *session) Move(uid imap.UID, folder string) error {
	if _, err := s.client.Move(imap.UIDSetNum(uid), folder).Wait(); err != nil {
		return fmt.Errorf("moving message %d to %s: %w", uid, folder, err)
	}
	return nil
}

func (s *session) Expunge() error {
	if _, err := s.client.Expunge().Collect(); err != nil {
		return fmt.Errorf("expunging: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	return s.client.Logout().Wait()
}

// fetchOne fetches a single message with the given options.
func (s *session) fetchOne(uid imap.UID, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), opts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}
	return buf, nil
}

// fetchSection fetches one body section of a message.
func (s *session) fetchSection(uid imap.UID, section *imap.FetchItemBodySection) ([]byte, error) {
	buf, err := s.fetchOne(uid, &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
		UID:         true,
	})
	if err != nil {
		return nil, err
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message %d: section not returned", uid)
	}
	return raw, nil
}
