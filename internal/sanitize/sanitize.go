// Package sanitize turns untrusted strings into values that are safe to store,
// log or render. Every function is total: malformed input degrades to an empty
// or truncated value and nothing here returns an error or panics.
package sanitize

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxTextLength     = 1000
	DefaultFormLength = 500
	MaxEmailLength    = 254
	formStripChars    = "<>'\""
	angleBracketChars = "<>"
)

var htmlPolicy = newHTMLPolicy()

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "p", "br", "ul", "ol", "li")
	return p
}

// Text strips angle brackets, trims and truncates to MaxTextLength runes.
// Values that are not string-like yield "".
func Text(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case fmt.Stringer:
		s = t.String()
	default:
		return ""
	}
	s = stripChars(strings.ToValidUTF8(s, ""), angleBracketChars)
	return truncate(strings.TrimSpace(s), MaxTextLength)
}

// FormInput is the filter for arbitrary user-entered fields. It is not a
// substitute for output encoding at render time.
func FormInput(s string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultFormLength
	}
	s = strings.TrimSpace(strings.ToValidUTF8(s, ""))
	return truncate(stripChars(s, formStripChars), maxLength)
}

// Email normalizes an address without validating it.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(s, "")))
	return truncate(s, MaxEmailLength)
}

// HTML is the only function whose output may be injected as markup.
func HTML(s string) string {
	return htmlPolicy.Sanitize(strings.ToValidUTF8(s, ""))
}

// IsSafeURL reports whether s may be rendered as a clickable link.
func IsSafeURL(s string) bool {
	if s == "" || s != strings.TrimSpace(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "mailto":
		return u.Opaque != "" || u.Path != ""
	default:
		return false
	}
}

func stripChars(s, chars string) string {
	if !strings.ContainsAny(s, chars) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
