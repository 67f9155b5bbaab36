package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// SyncApply is a validated sync envelope ready for transactional apply.
type SyncApply struct {
	Energy                 *int
	Coins                  *int
	CurrentUserLanguagesID *int64

	Inserts map[string]VocabularyEntry
	Updates map[string]VocabularyPatch
	Deletes []string
}

// HasProgress reports whether any progress field is present.
func (a *SyncApply) HasProgress() bool {
	return a.Energy != nil || a.Coins != nil || a.CurrentUserLanguagesID != nil
}

// SyncOutcome reports what one sync transaction actually committed.
type SyncOutcome struct {
	Progress *UserProgress
	Deleted  int64
	Updated  []VocabularyRow
	Inserted []VocabularyRow
}

// RefreshToken is a stored renewal credential. Only the SHA-256 digest of the
// opaque token is persisted.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
}
