// Package filestore stores relayed file payloads under a fixed root
// directory, keyed by a sanitized identifier derived from the sender's
// declared filename.
package filestore

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrFileNotFound indicates no file is stored under the identifier.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidName indicates the declared filename cannot be turned into
	// a safe identifier.
	ErrInvalidName = errors.New("invalid file name")
)

// Store is a flat file store rooted at a single directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store over it.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// sanitize reduces a client-declared filename to a bare name safe to join
// under the root. Path separators (either flavor) and traversal components
// are stripped; an empty or dot-only result is rejected.
func sanitize(declared string) (string, error) {
	name := strings.ReplaceAll(declared, `\`, "/")
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, declared)
	}
	return name, nil
}

// contentSuffixed derives a collision-free identifier by inserting a short
// content hash before the extension: report.pdf → report-1a2b3c4d.pdf.
func contentSuffixed(name string, data []byte) string {
	sum := blake2b.Sum256(data)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%s%s", stem, hex.EncodeToString(sum[:4]), ext)
}

// Save stores data under an identifier derived from the declared name and
// returns that identifier. Re-saving identical bytes is idempotent. When the
// name is already taken by different bytes, the identifier gains a content
// hash suffix instead of silently overwriting the earlier file.
func (s *Store) Save(declared string, data []byte) (string, error) {
	name, err := sanitize(declared)
	if err != nil {
		return "", err
	}

	existing, err := os.ReadFile(filepath.Join(s.root, name))
	switch {
	case err == nil && bytes.Equal(existing, data):
		return name, nil
	case err == nil:
		// Collision with different content. The suffixed name is a pure
		// function of the bytes, so writing it again is harmless.
		name = contentSuffixed(name, data)
	case !os.IsNotExist(err):
		return "", fmt.Errorf("failed to check existing file: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.root, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return name, nil
}

// Retrieve returns the bytes stored under the identifier, or ErrFileNotFound.
func (s *Store) Retrieve(identifier string) ([]byte, error) {
	name, err := sanitize(identifier)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
