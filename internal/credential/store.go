// Package credential keeps the backend bearer token on disk, sealed with
// AES-256-GCM under a key derived (HKDF-SHA256) from a per-machine secret.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chaz8081/scale-sync/internal/domain"
)

// ErrNoCredential is returned when no token has been stored.
var ErrNoCredential = errors.New("credential: not logged in")

// FileStore persists one token. The secret file is created on first Save.
type FileStore struct {
	tokenPath  string
	secretPath string
}

// Compile-time interface satisfaction check.
var _ domain.CredentialProvider = (*FileStore)(nil)

// NewFileStore creates a store sealing the token at tokenPath with the
// secret kept at secretPath.
func NewFileStore(tokenPath, secretPath string) *FileStore {
	return &FileStore{tokenPath: tokenPath, secretPath: secretPath}
}

// Save seals and writes token, replacing any previous one.
func (s *FileStore) Save(token string) error {
	if token == "" {
		return errors.New("credential: empty token")
	}
	secret, err := s.loadSecret(true)
	if err != nil {
		return err
	}
	key, err := DeriveKey(secret)
	if err != nil {
		return err
	}
	sealed, err := Seal(key, []byte(token))
	if err != nil {
		return err
	}
	return writeFileAtomic(s.tokenPath, sealed)
}

// Token returns the stored token, or ErrNoCredential.
func (s *FileStore) Token(_ context.Context) (string, error) {
	sealed, err := os.ReadFile(s.tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("credential: read token: %w", err)
	}
	secret, err := s.loadSecret(false)
	if err != nil {
		return "", err
	}
	key, err := DeriveKey(secret)
	if err != nil {
		return "", err
	}
	token, err := Open(key, sealed)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// Clear removes the stored token. Clearing an empty store is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.tokenPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credential: remove token: %w", err)
	}
	return nil
}

func (s *FileStore) loadSecret(create bool) ([]byte, error) {
	secret, err := os.ReadFile(s.secretPath)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("credential: read secret: %w", err)
	}
	if !create {
		return nil, ErrNoCredential
	}
	secret, err = NewSecret()
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(s.secretPath, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// writeFileAtomic writes to a temp file first, then renames.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("credential: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credential: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credential: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Static is a fixed token, e.g. from the environment.
type Static string

// Token returns the token, or ErrNoCredential when empty.
func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}
