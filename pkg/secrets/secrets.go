// Package secrets stores service credentials (API keys, tokens) in the
// operating system keyring so they never land in the settings document.
package secrets

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service every credential is filed under.
const ServiceName = "arrdeck"

// ErrNotFound is returned by Get when no credential exists for the key.
var ErrNotFound = errors.New("secrets: credential not found")

// Store wraps the OS keyring under a single service name.
type Store struct {
	service string
	log     *logrus.Logger
}

// NewStore creates a credential store. An empty service uses ServiceName.
func NewStore(service string, log *logrus.Logger) *Store {
	if service == "" {
		service = ServiceName
	}
	if log == nil {
		log = logrus.New()
	}
	return &Store{service: service, log: log}
}

// Set saves a credential under key (e.g. "sonarr_api_key").
func (s *Store) Set(key, secret string) error {
	if err := keyring.Set(s.service, key, secret); err != nil {
		return fmt.Errorf("failed to store credential %s: %w", key, err)
	}
	s.log.WithField("key", key).Debug("Credential stored")
	return nil
}

// Get retrieves a credential. Returns ErrNotFound when the key has no
// stored secret.
func (s *Store) Get(key string) (string, error) {
	secret, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credential %s: %w", key, err)
	}
	return secret, nil
}

// Delete removes a credential. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	err := keyring.Delete(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		s.log.WithField("key", key).Debug("No credential to delete")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", key, err)
	}
	return nil
}
