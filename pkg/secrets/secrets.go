// Package secrets resolves API credentials from the environment, falling back
// to the system keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used in the system keyring.
const KeyringService = "penf-meetings"

// Known secret names. Each maps to an environment variable of the same meaning.
const (
	OpenAIAPIKey    = "openai-api-key"
	ExpoAccessToken = "expo-access-token"
)

// EnvVars maps secret names to the environment variables checked first.
var EnvVars = map[string]string{
	OpenAIAPIKey:    "OPENAI_API_KEY",
	ExpoAccessToken: "EXPO_ACCESS_TOKEN",
}

var (
	// ErrNotFound indicates the secret is in neither the environment nor the keyring.
	ErrNotFound = errors.New("secret not found")

	// ErrKeyringUnavailable indicates the system keyring could not be used.
	ErrKeyringUnavailable = errors.New("system keyring unavailable")
)

// Resolver looks secrets up by name.
type Resolver struct {
	service    string
	useKeyring bool
	getenv     func(string) string
}

// NewResolver creates a resolver. When useKeyring is false only the
// environment is consulted.
func NewResolver(useKeyring bool) *Resolver {
	return &Resolver{
		service:    KeyringService,
		useKeyring: useKeyring,
		getenv:     os.Getenv,
	}
}

// Get returns the secret from its environment variable, then the keyring.
func (r *Resolver) Get(name string) (string, error) {
	if env, ok := EnvVars[name]; ok {
		if v := strings.TrimSpace(r.getenv(env)); v != "" {
			return v, nil
		}
	}
	if !r.useKeyring {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	v, err := keyring.Get(r.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

// Optional returns the secret or an empty string when it is not configured.
// Keyring failures are still reported.
func (r *Resolver) Optional(name string) (string, error) {
	v, err := r.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores a secret in the keyring.
func (r *Resolver) Set(name, value string) error {
	if err := keyring.Set(r.service, name, value); err != nil {
		return fmt.Errorf("%w: storing %s: %v", ErrKeyringUnavailable, name, err)
	}
	return nil
}

// Delete removes a secret from the keyring. Deleting a missing secret is not an error.
func (r *Resolver) Delete(name string) error {
	err := keyring.Delete(r.service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: deleting %s: %v", ErrKeyringUnavailable, name, err)
	}
	return nil
}

// Known reports whether name is a recognised secret.
func Known(name string) bool {
	_, ok := EnvVars[name]
	return ok
}

// Mask hides all but the last four characters of a secret.
func Mask(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", 8) + value[len(value)-4:]
}

// Description returns the human-readable name of the keyring backend.
func Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}
