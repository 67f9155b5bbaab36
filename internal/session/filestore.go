package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/avkdev/lingsync/internal/errs"
)

// FileStore keeps the refresh token in a 0600 JSON file under the data dir.
type FileStore struct {
	path string
}

type tokenFile struct {
	RefreshToken string `json:"refresh_token"`
}

// NewFileStore returns a SecureStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "refresh_token.json")}
}

// LoadRefreshToken reads the stored token.
func (f *FileStore) LoadRefreshToken() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.RefreshToken == "" {
		return "", errs.ErrNotFound
	}
	return tf.RefreshToken, nil
}

// SaveRefreshToken writes the token with owner-only permissions.
func (f *FileStore) SaveRefreshToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(tokenFile{RefreshToken: token})
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0o600)
}

// Clear removes the stored token.
func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
