// Package smtp implements a minimal SMTP submission client as a
// sequential protocol session over one connection, plus the platform
// sendmail fallback used when no relay is configured.
//
// Response codes are checked strictly only where a wrong code would
// corrupt the session (STARTTLS, AUTH); the envelope and data phases
// deliberately keep the original fire-and-forget relay semantics and
// tolerate non-2xx replies.
package smtp

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"bouncer/internal/model"
)

// Message is one notification to transmit.
type Message struct {
	FromEmail string
	FromName  string
	To        []string
	Subject   string
	Body      string
}

// Sender delivers a single message.
type Sender interface {
	Send(msg Message) error
}

// TraceFunc receives every raw protocol line. dir is "C" for commands
// sent and "S" for responses received. Credentials are masked.
type TraceFunc func(dir, line string)

// Config holds the relay connection parameters for a Client.
type Config struct {
	Host     string
	Port     int
	Security string // model.SecuritySSL, SecurityTLS, or SecurityNone
	Username string
	Password string

	// LocalName is announced in EHLO; defaults to "localhost".
	LocalName string

	// Timeout bounds the dial and each read; defaults to 30s.
	Timeout time.Duration

	// TLSConfig overrides the TLS client configuration for both
	// implicit TLS and the STARTTLS upgrade. Nil uses a default with
	// ServerName set to Host.
	TLSConfig *tls.Config
}

// Client sends messages through a custom SMTP relay, one connection
// per send.
type Client struct {
	cfg   Config
	trace TraceFunc
}

// NewClient creates a relay client from the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// SetTrace installs a diagnostic hook capturing every protocol line.
// It does not alter control flow.
func (c *Client) SetTrace(t TraceFunc) {
	c.trace = t
}

// Send opens a connection, walks the session through greeting, optional
// STARTTLS, optional authentication, envelope, and data, then quits.
func (c *Client) Send(msg Message) error {
	s, err := c.open()
	if err != nil {
		return err
	}
	defer s.close()

	if err := c.negotiate(s); err != nil {
		return err
	}

	// Envelope and data phases are tolerant: responses are read but
	// not validated.
	s.cmd(fmt.Sprintf("MAIL FROM:<%s>", msg.FromEmail))
	s.readResponse()
	for _, rcpt := range msg.To {
		rcpt = strings.TrimSpace(rcpt)
		if rcpt == "" {
			continue
		}
		s.cmd(fmt.Sprintf("RCPT TO:<%s>", rcpt))
		s.readResponse()
	}

	s.cmd("DATA")
	s.readResponse()

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	s.writeLine("From: " + from)
	s.writeLine("To: " + strings.Join(msg.To, ", "))
	s.writeLine("Subject: " + msg.Subject)
	s.writeLine("MIME-Version: 1.0")
	s.writeLine("Content-Type: text/plain; charset=utf-8")
	s.writeLine("")
	for _, line := range strings.Split(msg.Body, "\n") {
		line = strings.TrimRight(line, "\r")
		// Dot-stuff so a body line starting with "." cannot end the
		// data phase early.
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		s.writeLine(line)
	}
	s.writeLine(".")
	s.readResponse()

	s.cmd("QUIT")
	s.readResponse()

	return s.err
}

// Check verifies connectivity by walking the session up to (and
// including) authentication, then quitting without sending. Combined
// with a trace hook it backs the administrator connectivity test.
func (c *Client) Check() error {
	s, err := c.open()
	if err != nil {
		return err
	}
	defer s.close()

	if err := c.negotiate(s); err != nil {
		return err
	}

	s.cmd("QUIT")
	s.readResponse()
	return s.err
}

func (c *Client) tlsConfig() *tls.Config {
	if c.cfg.TLSConfig != nil {
		return c.cfg.TLSConfig
	}
	return &tls.Config{ServerName: c.cfg.Host}
}

// open dials the relay, wrapping the stream in TLS right away for
// implicit-TLS mode.
func (c *Client) open() (*wireSession, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, c.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("SMTP connection failed: %w", err)
	}

	if c.cfg.Security == model.SecuritySSL {
		tlsConn := tls.Client(conn, c.tlsConfig())
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("SMTP TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	return &wireSession{
		conn:    conn,
		r:       bufio.NewReader(conn),
		trace:   c.trace,
		timeout: c.cfg.Timeout,
	}, nil
}

// negotiate takes a fresh session through banner, EHLO, STARTTLS, and
// AUTH LOGIN as configured.
func (c *Client) negotiate(s *wireSession) error {
	// Server banner; any line is accepted.
	s.readResponse()

	s.cmd("EHLO " + c.cfg.LocalName)
	s.readResponse()

	if c.cfg.Security == model.SecurityTLS {
		s.cmd("STARTTLS")
		code, line := s.readResponse()
		if s.err != nil {
			return s.err
		}
		if !strings.HasPrefix(code, "220") {
			return &ProtocolError{Command: "STARTTLS", Code: code, Line: line}
		}

		// Upgrade the existing socket in place.
		tlsConn := tls.Client(s.conn, c.tlsConfig())
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("STARTTLS handshake failed: %w", err)
		}
		s.conn = tlsConn
		s.r = bufio.NewReader(tlsConn)

		// Servers reset capability state after STARTTLS; the session
		// must re-greet before anything else.
		s.cmd("EHLO " + c.cfg.LocalName)
		s.readResponse()
	}

	if c.cfg.Username != "" {
		s.cmd("AUTH LOGIN")
		s.readResponse()
		s.cmdMasked(base64.StdEncoding.EncodeToString([]byte(c.cfg.Username)))
		s.readResponse()
		s.cmdMasked(base64.StdEncoding.EncodeToString([]byte(c.cfg.Password)))
		code, line := s.readResponse()
		if s.err != nil {
			return s.err
		}
		if !strings.HasPrefix(code, "235") {
			return &AuthError{Code: code, Line: line}
		}
	}

	return s.err
}

// wireSession is the raw line-oriented connection state. The first I/O
// error sticks; later operations become no-ops so callers can follow
// the protocol script linearly.
type wireSession struct {
	conn    net.Conn
	r       *bufio.Reader
	trace   TraceFunc
	timeout time.Duration
	err     error
}

func (s *wireSession) cmd(line string) {
	s.write(line, line)
}

// cmdMasked sends a line whose trace output is redacted (credentials).
func (s *wireSession) cmdMasked(line string) {
	s.write(line, "<credentials>")
}

func (s *wireSession) write(line, traced string) {
	if s.err != nil {
		return
	}
	s.conn.SetDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		s.err = fmt.Errorf("writing %q: %w", traced, err)
		return
	}
	if s.trace != nil {
		s.trace("C", traced)
	}
}

func (s *wireSession) writeLine(line string) {
	s.write(line, line)
}

// readResponse consumes one possibly multi-line response. A space at
// the fourth character marks the final line. Returns the 3-digit code
// and the final line.
func (s *wireSession) readResponse() (code, last string) {
	if s.err != nil {
		return "", ""
	}
	for {
		s.conn.SetDeadline(time.Now().Add(s.timeout))
		line, err := s.r.ReadString('\n')
		if err != nil {
			s.err = fmt.Errorf("reading response: %w", err)
			return "", ""
		}
		line = strings.TrimRight(line, "\r\n")
		if s.trace != nil {
			s.trace("S", line)
		}
		last = line
		if len(line) >= 3 {
			code = line[:3]
		}
		// "250-..." continues, "250 ..." (or a bare code) ends.
		if len(line) < 4 || line[3] == ' ' {
			return code, last
		}
	}
}

func (s *wireSession) close() {
	s.conn.Close()
}
