// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Proficiency levels accepted for a language course.
const (
	LevelNovice = "N"
	LevelA1     = "A1"
	LevelA2     = "A2"
	LevelB1     = "B1"
	LevelB2     = "B2"
	LevelC1     = "C1"
	LevelC2     = "C2"
)

// MaxMasteryLevel bounds VocabularyEntry.MasteryLevel.
const MaxMasteryLevel = 6

// ValidProficiency reports whether lvl is one of the accepted course levels.
func ValidProficiency(lvl string) bool {
	switch lvl {
	case LevelNovice, LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2:
		return true
	}
	return false
}

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry
}

// User represents an account stored on the server.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}

// LanguageProgress is one language course a user is enrolled in.
type LanguageProgress struct {
	ID                 int64     `json:"id"`
	NativeLanguageID   int       `json:"native_language_id"`
	LearningLanguageID int       `json:"learning_language_id"`
	ProficiencyLevel   string    `json:"proficiency_level"`
	Experience         int       `json:"experience"`
	IsCurrentLanguage  bool      `json:"is_current_language"`
	CreatedAt          time.Time `json:"created_at"`
}

// Progress is the per-user learning state. Exactly one entry in Languages
// has IsCurrentLanguage set at any time.
type Progress struct {
	Energy    int                `json:"energy"`
	Coins     int                `json:"coins"`
	Languages []LanguageProgress `json:"languages"`
}

// CurrentLanguage returns the active course, or nil if none is marked current.
func (p *Progress) CurrentLanguage() *LanguageProgress {
	for i := range p.Languages {
		if p.Languages[i].IsCurrentLanguage {
			return &p.Languages[i]
		}
	}
	return nil
}

// VocabularyEntry is one learned word, keyed externally by word id.
type VocabularyEntry struct {
	LanguageID   int        `json:"language_id"`
	MasteryLevel int        `json:"mastery_level"` // [0, MaxMasteryLevel]
	LastReview   *time.Time `json:"last_review,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// VocabularyPatch is a partial update to an existing entry. Nil fields are
// left untouched; LastReviewSet distinguishes an explicit null (clear the
// review timestamp) from an absent key (keep it).
type VocabularyPatch struct {
	MasteryLevel  *int       `json:"mastery_level,omitempty"`
	LastReview    *time.Time `json:"last_review,omitempty"`
	LastReviewSet bool       `json:"-"`
}

// UnmarshalJSON decodes a patch, tracking whether last_review was present.
func (p *VocabularyPatch) UnmarshalJSON(data []byte) error {
	type alias VocabularyPatch
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*p = VocabularyPatch(a)
	_, p.LastReviewSet = keys["last_review"]
	return nil
}

// MarshalJSON emits last_review explicitly (possibly null) when it was set.
func (p VocabularyPatch) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if p.MasteryLevel != nil {
		m["mastery_level"] = *p.MasteryLevel
	}
	if p.LastReviewSet {
		m["last_review"] = p.LastReview
	}
	return json.Marshal(m)
}

// VocabularyRow is a server-side vocabulary record with ownership columns.
type VocabularyRow struct {
	UserID          uuid.UUID  `json:"-"`
	WordID          string     `json:"word_id"`
	UserLanguagesID int64      `json:"user_languages_id"`
	LanguageID      int        `json:"language_id"`
	MasteryLevel    int        `json:"mastery_level"`
	LastReview      *time.Time `json:"last_review,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserProgress is the server-side progress row for one user.
type UserProgress struct {
	UserID                 uuid.UUID `json:"-"`
	Energy                 int       `json:"energy"`
	Coins                  int       `json:"coins"`
	CurrentUserLanguagesID *int64    `json:"current_user_languages_id,omitempty"`
	UpdatedAt              time.Time `json:"-"`
}
