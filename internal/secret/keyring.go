package secret

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// serviceName is the keychain service namespace all companion secrets
// are stored under; the session-scoped key (e.g. "session:<uuid>") is
// the keychain "user" field.
const serviceName = "meshcore-companion"

// Keyring stores session passwords in the host OS's credential store
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux)
// via github.com/zalando/go-keyring.
type Keyring struct{}

// NewKeyring creates a Keyring-backed Secret.
func NewKeyring() *Keyring { return &Keyring{} }

var _ Secret = (*Keyring)(nil)

func (k *Keyring) StorePassword(ctx context.Context, key, secretValue string) error {
	if err := keyring.Set(serviceName, key, secretValue); err != nil {
		return &SecretError{Op: "StorePassword", Err: err}
	}
	return nil
}

func (k *Keyring) RetrievePassword(ctx context.Context, key string) (string, bool, error) {
	value, err := keyring.Get(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &SecretError{Op: "RetrievePassword", Err: err}
	}
	return value, true, nil
}

func (k *Keyring) DeletePassword(ctx context.Context, key string) error {
	err := keyring.Delete(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &SecretError{Op: "DeletePassword", Err: err}
	}
	return nil
}
