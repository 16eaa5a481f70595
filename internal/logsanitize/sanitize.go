// Package logsanitize cleans untrusted request values before they reach
// the structured logs. Callback requests arrive from a browser the user
// controls, so paths and header values are attacker-shaped input.
package logsanitize

import (
	"strings"
	"unicode/utf8"
)

// maxFieldLen bounds logged values; callback URLs with long query
// strings are cut rather than written out in full.
const maxFieldLen = 256

// Sanitize strips control characters (log injection, CWE-117) and
// truncates overlong values. The cut never splits a rune and bytes
// that are not valid UTF-8 are replaced, so the output is always
// well-formed.
//
// Replaced ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
//   - bytes outside valid UTF-8 sequences
func Sanitize(s string) string {
	if len(s) > maxFieldLen {
		cut := maxFieldLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size <= 1:
			b.WriteByte('_')
		case r < 0x20 && r != '\t':
			b.WriteByte('_')
		case r >= 0x7f && r <= 0x9f:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}
