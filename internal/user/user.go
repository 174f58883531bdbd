// Package user provides read-only access to user profiles. Profiles are
// owned and mutated by the account service; this side only queries them for
// matching and read-side enrichment.
package user

import "time"

// Proficiency levels for a learning entry.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
	LevelNative       = "native"
)

// LearningLanguage is one language a user wants to practice, with their
// self-assessed level.
type LearningLanguage struct {
	Language string `json:"language"`
	Level    string `json:"level"`
}

// User is a language-exchange profile.
type User struct {
	ID                string             `json:"id"`
	Username          string             `json:"username"`
	Avatar            string             `json:"avatar"`
	NativeLanguages   []string           `json:"native_languages"`
	LearningLanguages []LearningLanguage `json:"learning_languages"`
	CreatedAt         time.Time          `json:"created_at"`
}

// LearningCodes returns the language codes the user is learning, in profile
// order.
func (u *User) LearningCodes() []string {
	codes := make([]string, 0, len(u.LearningLanguages))
	for _, l := range u.LearningLanguages {
		codes = append(codes, l.Language)
	}
	return codes
}

// SpeaksNatively reports whether lang is one of the user's native languages.
func (u *User) SpeaksNatively(lang string) bool {
	for _, n := range u.NativeLanguages {
		if n == lang {
			return true
		}
	}
	return false
}
