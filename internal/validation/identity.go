// Package validation checks client-asserted identity fields.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIdentityLength bounds user ids and nicknames, in runes.
const MaxIdentityLength = 64

// ValidateUserID checks an already trimmed user id.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if utf8.RuneCountInString(userID) > MaxIdentityLength {
		return fmt.Errorf("user_id must be at most %d characters", MaxIdentityLength)
	}
	if strings.IndexFunc(userID, unicode.IsSpace) >= 0 {
		return fmt.Errorf("user_id cannot contain whitespace")
	}
	if hasControl(userID) {
		return fmt.Errorf("user_id cannot contain control characters")
	}
	return nil
}

// ValidateNickname checks a display nickname. Empty is allowed; callers
// fall back to the user id.
func ValidateNickname(nickname string) error {
	if utf8.RuneCountInString(nickname) > MaxIdentityLength {
		return fmt.Errorf("nickname must be at most %d characters", MaxIdentityLength)
	}
	if hasControl(nickname) {
		return fmt.Errorf("nickname cannot contain control characters")
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
