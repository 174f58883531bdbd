package relay

import (
	"unicode/utf8"

	"github.com/tandem/lingua-app/internal/apperr"
)

const (
	MaxContentBytes = 4096 // max payload size
	MaxTextChars    = 2000 // max character count for text messages
)

// validateContent checks that message content meets size and encoding
// requirements.
func validateContent(content string) error {
	if len(content) == 0 {
		return apperr.Validation("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return apperr.Validation("message exceeds size limit")
	}
	if utf8.RuneCountInString(content) > MaxTextChars {
		return apperr.Validation("message exceeds character limit")
	}
	if !utf8.ValidString(content) {
		return apperr.Validation("message contains invalid UTF-8")
	}
	return nil
}
