// Package fingerprint derives the identity of a chat message from its
// visible text.
//
// The identity is "msg_" followed by the base-36 absolute value of a 32-bit
// rolling hash (h = h*31 + unit) over the first 200 UTF-16 code units of the
// trimmed text. It is the same value the page computes with
// String.prototype.charCodeAt, so identities recorded by either side agree.
// Distinct messages sharing the same leading text collide; that is accepted.
package fingerprint

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/dom"
)

// Prefix starts every fingerprint.
const Prefix = "msg_"

// MaxUnits is how many UTF-16 code units of text take part in the hash.
const MaxUnits = 200

// Of returns the fingerprint of a text.
func Of(text string) string {
	units := utf16.Encode([]rune(trim(text)))
	if len(units) > MaxUnits {
		units = units[:MaxUnits]
	}
	var h int32
	for _, u := range units {
		h = (h << 5) - h + int32(u)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return Prefix + strconv.FormatInt(abs, 36)
}

// Node returns the fingerprint of a container's text content. A nil node
// yields the empty-text fingerprint.
func Node(n *html.Node) string {
	return Of(dom.TextContent(n))
}

// Valid reports whether s has the shape of a fingerprint.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || rest == "" || len(rest) > 7 {
		return false
	}
	for _, c := range rest {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// trim strips leading and trailing white space the way the page does:
// Unicode space separators, the ASCII controls TAB, LF, VT, FF and CR, the
// line and paragraph separators and the byte order mark. NEL (U+0085) is
// kept.
func trim(s string) string {
	return strings.TrimFunc(s, isPageSpace)
}

func isPageSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', '\u2028', '\u2029', '\uFEFF':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}
