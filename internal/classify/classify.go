// Package classify decides whether a message subject marks a bounce or
// an automatic reply.
package classify

import (
	"log/slog"
	"regexp"
)

// Classifier matches message subjects against ordered pattern sets.
// Matching is case-insensitive. Pattern order only affects
// short-circuiting, never the result.
type Classifier struct {
	bounce    []*regexp.Regexp
	autoReply []*regexp.Regexp
}

// New compiles the bounce and auto-reply pattern sets. Patterns that
// fail to compile are skipped with a warning; a malformed pattern must
// never break classification.
func New(bouncePatterns, autoReplyPatterns []string) *Classifier {
	return &Classifier{
		bounce:    compileAll(bouncePatterns),
		autoReply: compileAll(autoReplyPatterns),
	}
}

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("skipping malformed pattern", "pattern", p, "error", err)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// IsBounce reports whether the subject matches any bounce pattern.
// An empty subject is never a bounce.
func (c *Classifier) IsBounce(subject string) bool {
	return matchAny(c.bounce, subject)
}

// IsAutoReply reports whether the subject looks like a vacation
// responder or other automatic reply.
func (c *Classifier) IsAutoReply(subject string) bool {
	return matchAny(c.autoReply, subject)
}

func matchAny(patterns []*regexp.Regexp, subject string) bool {
	if subject == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// statusTexts maps SMTP enhanced status codes to their usual meaning.
var statusTexts = map[string]string{
	"5.1.1": "User unknown",
	"5.1.2": "Invalid domain name",
	"5.1.3": "Bad address syntax",
	"5.1.4": "Invalid address",
	"5.1.5": "Recipient address rejected",
	"5.1.6": "Address incomplete",
	"5.2.0": "Message too large",
	"5.3.0": "Mailbox unavailable",
	"5.3.1": "Mailbox busy",
	"5.3.2": "Mailbox full",
	"5.4.0": "Address not found",
	"5.4.1": "No such user",
	"5.4.2": "Invalid address format",
	"5.5.0": "Message rejected",
	"5.5.1": "Bad destination mailbox",
	"5.5.2": "Bad destination system",
	"5.5.3": "Bad destination mailbox",
	"5.5.4": "Mailbox unavailable",
	"5.5.5": "Message too large",
	"5.5.6": "Message not accepted",
	"5.5.7": "Message content rejected",
}

// StatusText returns the explanation for an SMTP enhanced status code,
// or an empty string if the code is unknown.
func StatusText(code string) string {
	return statusTexts[code]
}
