package auth

import "strings"

// Category is a stable classification of an authentication rejection,
// exposed through the diagnostic endpoint instead of raw protocol text.
type Category string

const (
	CategoryPasswordMismatch Category = "password_mismatch"
	CategoryUnknownUser      Category = "unknown_user"
	CategoryExpiredAccount   Category = "expired_account"
	CategorySessionLimit     Category = "session_limit"
	CategoryOther            Category = "other"
)

// Raw reasons written by this service. The AAA front end may write its own
// strings; Categorize covers both.
const (
	reasonUnknownUser      = "user not found"
	reasonPasswordMismatch = "password mismatch"
)

// Categorize maps a raw rejection string to a stable category code.
func Categorize(raw string) Category {
	s := strings.ToLower(raw)
	switch {
	case s == "":
		return CategoryOther
	case strings.Contains(s, "password") || strings.Contains(s, "mschap"):
		return CategoryPasswordMismatch
	case strings.Contains(s, "not found") || strings.Contains(s, "unknown user") ||
		strings.Contains(s, "invalid user"):
		return CategoryUnknownUser
	case strings.Contains(s, "expire"):
		return CategoryExpiredAccount
	case strings.Contains(s, "simultaneous") || strings.Contains(s, "max-all-session") ||
		strings.Contains(s, "session limit"):
		return CategorySessionLimit
	default:
		return CategoryOther
	}
}
