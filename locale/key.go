// Package locale resolves user-facing strings for the flow engine. Strings
// come from server-published per-locale content bundles, cached in memory
// and on disk; a compiled-in fallback guarantees a usable string even with
// an empty cache and no network.
package locale

import "strings"

// Key addresses one string in a content bundle as a path of nested object
// keys. The last segment is tried with the platform override suffix first,
// then plain, walking up to shorter prefixes when the deepest path is
// absent.
type Key struct {
	Path     []string
	Fallback string
}

// NewKey builds a Key from path segments.
func NewKey(path ...string) Key {
	return Key{Path: path}
}

// WithFallback attaches the compiled-in fallback string.
func (k Key) WithFallback(fallback string) Key {
	k.Fallback = fallback
	return k
}

func (k Key) String() string { return strings.Join(k.Path, ".") }

// Keys the engine itself resolves. Hosts may define their own for widget
// text; the engine only needs the terminal error message.
var (
	KeyUnspecifiedError = NewKey("steps", "error").
				WithFallback("Something went wrong. Please try again.")
	KeyInvalidEmail = NewKey("errors", "invalidEmail").
			WithFallback("Please enter a valid email address.")
	KeyInvalidPhone = NewKey("errors", "invalidPhone").
			WithFallback("Please enter a valid phone number.")
)
