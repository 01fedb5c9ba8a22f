package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/claudine-credentials/internal/credentials"
)

// KeyringStore reads credentials from OS-native secure storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements SecureStoreReader
var _ SecureStoreReader = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// ReadSecure returns the raw keyring item. The platform keyring offers no
// query that is guaranteed not to prompt, so a read with allowPrompt false
// reports absence without touching the keyring. A missing item is also
// reported as absence; any other failure wraps ErrSecureStoreUnavailable.
//
// The keyring call itself cannot be cancelled. If ctx ends first, ReadSecure
// returns ctx.Err() and the call finishes in the background.
func (k *KeyringStore) ReadSecure(ctx context.Context, allowPrompt bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !allowPrompt {
		return nil, nil
	}

	type result struct {
		secret string
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		secret, err := keyring.Get(k.service, k.user)
		ch <- result{secret, err}
	}()

	select {
	case res := <-ch:
		if errors.Is(res.err, keyring.ErrNotFound) {
			return nil, nil
		}
		if res.err != nil {
			return nil, fmt.Errorf("%w: service %s, user %s: %w", credentials.ErrSecureStoreUnavailable, k.service, k.user, res.err)
		}
		secret := strings.TrimSpace(res.secret)
		if secret == "" {
			return nil, nil
		}
		return []byte(secret), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
