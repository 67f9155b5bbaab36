// Package api defines the JSON wire types shared by the client and the server.
package api

import (
	"time"

	"github.com/avkdev/lingsync/internal/model"
)

// SyncRequest is the envelope flushed by the client. At least one of the two
// sections must be present.
type SyncRequest struct {
	UserProgress      *ProgressPatch     `json:"user_progress,omitempty"`
	VocabularyChanges *VocabularyChanges `json:"vocabulary_changes,omitempty"`
}

// Empty reports whether the envelope carries nothing to apply.
func (r *SyncRequest) Empty() bool {
	return r.UserProgress == nil && (r.VocabularyChanges == nil || r.VocabularyChanges.Empty())
}

// ProgressPatch carries dirty progress fields. Nil means "unchanged".
type ProgressPatch struct {
	Energy                 *int   `json:"energy,omitempty"`
	Coins                  *int   `json:"coins,omitempty"`
	CurrentUserLanguagesID *int64 `json:"current_user_languages_id,omitempty"`
}

// VocabularyChanges is the flushed diff journal, keyed by word id.
type VocabularyChanges struct {
	Inserts map[string]model.VocabularyEntry `json:"inserts,omitempty"`
	Updates map[string]model.VocabularyPatch `json:"updates,omitempty"`
	Deletes map[string]bool                  `json:"deletes,omitempty"`
}

// Empty reports whether all three categories are empty.
func (c *VocabularyChanges) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// SyncResponse echoes authoritative state after a successful apply.
type SyncResponse struct {
	Message string      `json:"message"`
	Results SyncResults `json:"results"`
}

// SyncResults reports what the server actually applied.
type SyncResults struct {
	UserProgress      *ProgressState     `json:"user_progress,omitempty"`
	VocabularyChanges *VocabularyResults `json:"vocabulary_changes,omitempty"`
}

// ProgressState is the authoritative progress snapshot after apply.
type ProgressState struct {
	Energy int `json:"energy"`
	Coins  int `json:"coins"`
}

// VocabularyResults reports affected rows per category.
type VocabularyResults struct {
	Deletes int                   `json:"deletes,omitempty"`
	Updates []model.VocabularyRow `json:"updates,omitempty"`
	Inserts []model.VocabularyRow `json:"inserts,omitempty"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse returns the new account id.
type RegisterResponse struct {
	UserID string `json:"user_id"`
}

// LoginRequest authenticates a user.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token pair.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse carries the rotated token pair. RefreshToken may be empty
// if the server chose not to rotate; the client then keeps its current one.
type RefreshResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// LanguageRequest enrolls the user in a language course and makes it current.
type LanguageRequest struct {
	NativeLanguageID   int    `json:"native_language_id"`
	LearningLanguageID int    `json:"learning_language_id"`
	ProficiencyLevel   string `json:"proficiency_level"`
}

// LanguageResponse returns the created course.
type LanguageResponse struct {
	UserLanguagesID int64 `json:"user_languages_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
