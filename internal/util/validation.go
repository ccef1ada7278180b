package util

import (
	"net/mail"
	"regexp"
	"strings"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{1,30}[a-zA-Z0-9_]$`)

const (
	MaxEmailLength = 254
	MaxNameLength  = 100
)

// IsValidEmail accepts a bare address ("a@x.com"), not a display-name form.
func IsValidEmail(s string) bool {
	if s == "" || len(s) > MaxEmailLength || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func IsValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}

// PasswordProblem returns a human readable reason the password is unacceptable,
// or "" if it is fine. Any non-empty password bcrypt can take is accepted.
func PasswordProblem(password string) string {
	if password == "" {
		return "must not be empty"
	}
	if len(password) > MaxPasswordBytes {
		return "must be at most 72 bytes"
	}
	return ""
}
