// Package auth resolves secret references from account configuration.
// A reference is either a literal value, "env:VAR" for an environment
// variable, or "keyring:item" for the system keychain.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "igcollector"

const (
	envPrefix     = "env:"
	keyringPrefix = "keyring:"
)

// Errors
var (
	ErrEmptyReference   = errors.New("empty secret reference")
	ErrSecretNotFound   = errors.New("secret not found")
	ErrStoreUnavailable = errors.New("secret store unavailable")
)

// Resolver turns secret references into secret values. The lookup
// functions are injectable for testing.
type Resolver struct {
	service    string
	lookupEnv  func(key string) (string, bool)
	keyringGet func(service, key string) (string, error)
}

// NewResolver creates a resolver backed by the process environment and
// the system keychain.
func NewResolver() *Resolver {
	return &Resolver{
		service:    keyringService,
		lookupEnv:  os.LookupEnv,
		keyringGet: keyring.Get,
	}
}

// Resolve returns the secret value a reference points at. References
// without a recognized prefix are treated as literal values.
func (r *Resolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrEmptyReference
	}

	switch {
	case strings.HasPrefix(ref, envPrefix):
		name := strings.TrimPrefix(ref, envPrefix)
		if name == "" {
			return "", fmt.Errorf("%w: reference %q names no variable", ErrSecretNotFound, ref)
		}
		value, ok := r.lookupEnv(name)
		if !ok || value == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
		}
		return value, nil

	case strings.HasPrefix(ref, keyringPrefix):
		item := strings.TrimPrefix(ref, keyringPrefix)
		if item == "" {
			return "", fmt.Errorf("%w: reference %q names no keyring item", ErrSecretNotFound, ref)
		}
		value, err := r.keyringGet(r.service, item)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", fmt.Errorf("%w: keyring item %s", ErrSecretNotFound, item)
			}
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return value, nil

	default:
		return ref, nil
	}
}

// StoreSecret writes a value into the system keychain under the given item
func StoreSecret(item, value string) error {
	if item == "" {
		return ErrEmptyReference
	}
	if err := keyring.Set(keyringService, item, value); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteSecret removes a value from the system keychain. Missing items are
// not an error.
func DeleteSecret(item string) error {
	if item == "" {
		return ErrEmptyReference
	}
	err := keyring.Delete(keyringService, item)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Mask hides all but the edges of a secret for log output
func Mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
