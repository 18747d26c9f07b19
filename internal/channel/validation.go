package channel

import (
	"strings"
	"unicode/utf8"

	"guild-server/internal/apperr"
)

// ValidateContent checks a message body against the length limit.
func ValidateContent(content string, maxLen int) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Invalid("message cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxLen {
		return apperr.Invalid("message must be at most %d characters", maxLen)
	}
	return nil
}

// ValidateName checks a channel name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("channel name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return "", apperr.Invalid("channel name must be at most 100 characters")
	}
	return name, nil
}
