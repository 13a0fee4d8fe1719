// Package credentials stores provider API keys in the OS keychain,
// falling back to environment variables.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const service = "orkestra"

// ErrNotFound is returned when no key exists for a provider in either
// the keychain or the environment.
var ErrNotFound = errors.New("api key not found")

// KeyName maps a provider id to its conventional environment variable,
// e.g. "openai" to "OPENAI_API_KEY".
func KeyName(provider string) string {
	provider = strings.TrimSpace(provider)
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}

// Set stores a key in the OS keychain.
func Set(provider, apiKey string) error {
	if strings.TrimSpace(provider) == "" {
		return fmt.Errorf("provider is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is empty")
	}
	return keyring.Set(service, KeyName(provider), apiKey)
}

// Get reads a key from the OS keychain only.
func Get(provider string) (string, error) {
	key, err := keyring.Get(service, KeyName(provider))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return key, err
}

// Delete removes a key from the OS keychain. Missing keys are a no-op.
func Delete(provider string) error {
	err := keyring.Delete(service, KeyName(provider))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Resolve finds a provider's key: the keychain wins, the environment
// variable is the fallback.
func Resolve(provider string) (string, error) {
	if key, err := Get(provider); err == nil && key != "" {
		return key, nil
	}
	if key := os.Getenv(KeyName(provider)); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w for provider %s (set %s or store it in the keychain)", ErrNotFound, provider, KeyName(provider))
}
