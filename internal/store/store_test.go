package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lingsync.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_LoadMissingKey_ReturnsDefault(t *testing.T) {
	s := newStore(t)
	def := model.Progress{Energy: 100}
	got := Load(s, KeyProgress, def, nil)
	require.Equal(t, def, got)
}

func TestStore_SaveBeforeLoad_Rejected(t *testing.T) {
	s := newStore(t)
	err := s.Save(KeyProgress, model.Progress{Energy: 1})
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestStore_RoundTrip(t *testing.T) {
	s := newStore(t)
	_ = Load(s, KeyProgress, model.Progress{Energy: 100}, nil)

	want := model.Progress{Energy: 80, Coins: 15}
	require.NoError(t, s.Save(KeyProgress, want))

	got := Load(s, KeyProgress, model.Progress{}, nil)
	require.Equal(t, want, got)
}

func TestStore_ValidatorRejection_FallsBackToDefault(t *testing.T) {
	s := newStore(t)
	_ = Load(s, KeyProgress, model.Progress{}, nil)
	require.NoError(t, s.Save(KeyProgress, model.Progress{Energy: -5}))

	def := model.Progress{Energy: 100}
	got := Load(s, KeyProgress, def, func(p model.Progress) bool { return p.Energy >= 0 })
	require.Equal(t, def, got)
}

func TestStore_UndecodableValue_FallsBackToDefault(t *testing.T) {
	s := newStore(t)
	_ = Load(s, KeyVocabulary, "", nil)
	require.NoError(t, s.Save(KeyVocabulary, "not a map"))

	got := Load(s, KeyVocabulary, map[string]model.VocabularyEntry{}, nil)
	require.Empty(t, got)
}
