// Package artifacts is the content-addressed store for compiled post-action
// WASM modules. Modules are addressed by "sha256:<hex>" of their bytes.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/canonicalize"
)

var (
	// ErrNotFound is returned by Get when no module has the hash.
	ErrNotFound = errors.New("module not found")
	// ErrInvalidHash is returned for hashes not of the form sha256:<64 hex>.
	ErrInvalidHash = errors.New("invalid module hash")
	// ErrNotWasm is returned by Store for payloads without the WASM preamble.
	ErrNotWasm = errors.New("not a wasm module")
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Store defines the contract for content-addressed module storage.
type Store interface {
	// Store persists a module and returns its hash. Storing the same bytes twice is a no-op.
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Delete(ctx context.Context, hash string) error
}

func checkModule(data []byte) error {
	if len(data) < 8 || !bytes.Equal(data[:4], wasmMagic) {
		return ErrNotWasm
	}
	return nil
}

// parseHash returns the hex part of a module hash.
func parseHash(hash string) (string, error) {
	if !canonicalize.ValidDigest(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return strings.TrimPrefix(hash, canonicalize.DigestPrefix), nil
}

func objectKey(prefix, rawHash string) string {
	return prefix + rawHash + ".wasm"
}

// FileStore keeps modules as files under a base directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: module directory is shared with the sandbox host
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure module dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	if err := checkModule(data); err != nil {
		return "", err
	}
	hash := canonicalize.HashBytes(data)
	rawHash, _ := parseHash(hash)
	path := filepath.Join(s.baseDir, objectKey("", rawHash))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp, err := os.CreateTemp(s.baseDir, rawHash+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to write module: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write module: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write module: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit module: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, objectKey("", rawHash))) //nolint:gosec // hash validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("read module %s: %w", hash, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.baseDir, objectKey("", rawHash)))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat module %s: %w", hash, err)
	}
}

func (s *FileStore) Delete(_ context.Context, hash string) error {
	rawHash, err := parseHash(hash)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(filepath.Join(s.baseDir, objectKey("", rawHash)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete module: %w", err)
	}
	return nil
}

