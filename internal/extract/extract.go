// Package extract recovers the original recipient information buried
// inside a bounce notification.
//
// Bounce messages usually quote the undeliverable message as a
// message/rfc822 MIME part. Extraction is an ordered chain of
// heuristics, first success wins: the structure tree is searched for
// an embedded rfc822 part; failing that, the common fixed part numbers
// of multipart DSN layouts are tried; as a last resort the bounce's
// own top-level headers are used (lower fidelity but non-empty).
package extract

import (
	"regexp"
	"strings"

	"github.com/emersion/go-imap/v2"

	"bouncer/internal/imapx"
	"bouncer/internal/model"
)

// Strategy names, recorded with each extraction for the activity log.
const (
	StrategyStructure  = "embedded-rfc822"
	StrategyFixedPart  = "fixed-part"
	StrategyOwnHeaders = "top-level-headers"
	StrategyNone       = "none"
)

// Result holds an extracted header block and the recipient data pulled
// out of it.
type Result struct {
	// Header is the raw header block of the original message.
	Header string

	// To is the first To: header value, trimmed.
	To string

	// Cc holds all Cc: header values, comma-split and trimmed.
	Cc []string

	// Strategy names the heuristic that produced the header block.
	Strategy string
}

var (
	toRe = regexp.MustCompile(`(?im)^To:[ \t]*(.+)$`)
	ccRe = regexp.MustCompile(`(?im)^Cc:[ \t]*(.+)$`)
)

// fallbackParts are the part numbers tried when the structure tree has
// no message/rfc822 part: in the common multipart DSN layout part 1 is
// the human-readable text and part 2 or 3 the returned message.
var fallbackParts = [][]int{{2}, {3}}

// OriginalHeaders extracts the original message's header block for one
// message. Fetch errors are treated as "part absent", never fatal; the
// chain continues to the next heuristic. Only a fully failed chain
// yields an empty Result.
func OriginalHeaders(sess imapx.Session, uid imap.UID) Result {
	if header, ok := fromStructure(sess, uid); ok {
		return parseHeader(header, StrategyStructure)
	}

	for _, part := range fallbackParts {
		raw, err := sess.FetchPart(uid, part)
		if err != nil || len(raw) == 0 {
			continue
		}
		return parseHeader(headerBlock(string(raw)), StrategyFixedPart)
	}

	if raw, err := sess.FetchHeader(uid); err == nil && len(raw) > 0 {
		return parseHeader(string(raw), StrategyOwnHeaders)
	}

	return Result{Strategy: StrategyNone}
}

// fromStructure walks the MIME tree for a message/rfc822 part and
// fetches its content.
func fromStructure(sess imapx.Session, uid imap.UID) (string, bool) {
	structure, err := sess.Structure(uid)
	if err != nil {
		return "", false
	}

	path := findMessagePart(structure, nil)
	if path == nil {
		return "", false
	}

	raw, err := sess.FetchPart(uid, path)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return headerBlock(string(raw)), true
}

// findMessagePart returns the part-number path of the first
// message/rfc822 part in the tree, or nil. At most one embedded
// rfc822 part is expected, so traversal order does not matter.
func findMessagePart(bs imap.BodyStructure, path []int) []int {
	switch part := bs.(type) {
	case *imap.BodyStructureSinglePart:
		if strings.EqualFold(part.Type, "message") && strings.EqualFold(part.Subtype, "rfc822") {
			if len(path) == 0 {
				// The whole body is the embedded message.
				return []int{1}
			}
			return path
		}
	case *imap.BodyStructureMultiPart:
		for i, child := range part.Children {
			childPath := append(append([]int(nil), path...), i+1)
			if found := findMessagePart(child, childPath); found != nil {
				return found
			}
		}
	}
	return nil
}

// headerBlock splits raw message content at the first blank line and
// returns the header portion. Content with no blank line is returned
// whole.
func headerBlock(raw string) string {
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		return raw[:i]
	}
	if i := strings.Index(raw, "\n\n"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// parseHeader pulls the first To: value and all Cc: values out of a
// header block.
func parseHeader(header, strategy string) Result {
	res := Result{
		Header:   header,
		Strategy: strategy,
	}

	if m := toRe.FindStringSubmatch(header); m != nil {
		res.To = strings.TrimSpace(m[1])
	}

	for _, m := range ccRe.FindAllStringSubmatch(header, -1) {
		res.Cc = append(res.Cc, model.SplitAddressList(m[1])...)
	}

	return res
}
