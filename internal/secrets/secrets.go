// Package secrets resolves backend API keys from the environment or the OS keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

// ServiceName is the keyring service entries are stored under.
const ServiceName = "promptline"

// ErrNotFound is returned when no key is configured for a backend.
var ErrNotFound = errors.New("api key not found")

// Store looks keys up in the environment first, then in the keyring.
// A nil keyring restricts lookups to the environment.
type Store struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// Open opens the OS keyring. When no keyring backend is usable the store
// falls back to environment-only lookups and the error is returned alongside.
// PROMPTLINE_KEYRING=off skips the keyring; any other value names the only
// backend to try (e.g. file, pass, keyctl).
func Open(fileDir string) (*Store, error) {
	choice := strings.TrimSpace(os.Getenv("PROMPTLINE_KEYRING"))
	if choice == "off" {
		return New(nil), nil
	}
	cfg := keyring.Config{
		ServiceName:              ServiceName,
		KeychainTrustApplication: true,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(os.Getenv("PROMPTLINE_KEYRING_PASSWORD")),
	}
	if choice != "" {
		cfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(choice)}
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return New(nil), fmt.Errorf("open keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring, getenv: os.Getenv}
}

// EnvName is the environment variable holding the key for backend,
// e.g. PROMPTLINE_OPENROUTER_API_KEY.
func EnvName(backend string) string {
	return "PROMPTLINE_" + strings.ToUpper(strings.TrimSpace(backend)) + "_API_KEY"
}

// APIKey returns the key configured for backend.
func (s *Store) APIKey(backend string) (string, error) {
	if v := strings.TrimSpace(s.getenv(EnvName(backend))); v != "" {
		return v, nil
	}
	if s.ring == nil {
		return "", ErrNotFound
	}
	it, err := s.ring.Get(backend)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", backend, err)
	}
	return strings.TrimSpace(string(it.Data)), nil
}

// SetAPIKey stores key for backend in the keyring.
func (s *Store) SetAPIKey(backend, key string) error {
	if backend == "" {
		return errors.New("backend is required")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("api key is empty")
	}
	if s.ring == nil {
		return errors.New("no keyring available")
	}
	return s.ring.Set(keyring.Item{
		Key:         backend,
		Data:        []byte(key),
		Label:       backend + " API key",
		Description: "API key for " + backend + " used by promptline",
	})
}

// DeleteAPIKey removes the stored key for backend.
func (s *Store) DeleteAPIKey(backend string) error {
	if s.ring == nil {
		return errors.New("no keyring available")
	}
	err := s.ring.Remove(backend)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// Backends lists the backends that have a key in the keyring.
func (s *Store) Backends() ([]string, error) {
	if s.ring == nil {
		return nil, nil
	}
	return s.ring.Keys()
}
