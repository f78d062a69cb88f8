// Package secret defines the Secret port (spec.md §4.9): process-owner-
// scoped storage for remote-node session passwords, with an OS-keychain
// backing store and an in-memory fake for tests.
package secret

import (
	"context"
	"errors"
)

// SecretError wraps a secret-store failure. As with StoreError, the
// cause is opaque.
type SecretError struct {
	Op  string
	Err error
}

func (e *SecretError) Error() string { return "secret: " + e.Op + ": " + e.Err.Error() }
func (e *SecretError) Unwrap() error { return e.Err }

// ErrNotFound names the "no secret under this key" condition. The
// Keyring and Memory implementations do not return it: RetrievePassword
// reports a missing key through its bool result, and DeletePassword
// treats a missing key as success.
var ErrNotFound = errors.New("not found")

// Secret is the port session.Manager depends on (spec.md §4.9).
// Implementations must survive restarts of the host application.
type Secret interface {
	StorePassword(ctx context.Context, key, secret string) error
	RetrievePassword(ctx context.Context, key string) (string, bool, error)
	DeletePassword(ctx context.Context, key string) error
}
