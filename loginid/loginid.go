// Package loginid models the user-supplied identifier a flow is bound to
// (email, phone number or user name) and persists the last-used identifier
// plus per-identifier metadata across restarts.
package loginid

import "regexp"

// Kind is the identifier shape the server expects for the application.
type Kind string

const (
	KindEmail    Kind = "email"
	KindPhone    Kind = "phoneNumber"
	KindUserName Kind = "userName"
)

// KindFromString maps a server-configured type name to a Kind.
// Unknown names default to email.
func KindFromString(s string) Kind {
	switch Kind(s) {
	case KindPhone:
		return KindPhone
	case KindUserName:
		return KindUserName
	default:
		return KindEmail
	}
}

// defaultPatterns validate identifiers when the server configuration does
// not supply its own regex.
var defaultPatterns = map[Kind]*regexp.Regexp{
	KindEmail:    regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`),
	KindPhone:    regexp.MustCompile(`^\+[0-9]{7,15}$`),
	KindUserName: regexp.MustCompile(`^[a-zA-Z0-9_.@+-]{1,64}$`),
}

// LoginID is a tagged identifier value. The zero value is empty.
type LoginID struct {
	Kind  Kind
	Value string
}

// Empty is the absent identifier.
var Empty = LoginID{}

// New builds a LoginID of the given kind.
func New(kind Kind, value string) LoginID {
	return LoginID{Kind: kind, Value: value}
}

// IsEmpty reports whether no identifier is set.
func (l LoginID) IsEmpty() bool { return l.Value == "" }

// Valid checks the value against pattern, or against the kind's built-in
// default pattern when pattern is nil.
func (l LoginID) Valid(pattern *regexp.Regexp) bool {
	if l.Value == "" {
		return false
	}
	if pattern == nil {
		pattern = defaultPatterns[l.Kind]
		if pattern == nil {
			pattern = defaultPatterns[KindEmail]
		}
	}
	return pattern.MatchString(l.Value)
}
