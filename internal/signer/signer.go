// Package signer produces signatures over authorization payloads on behalf
// of event controllers.
package signer

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownController is returned when no key is registered for the
// requested controller.
var ErrUnknownController = errors.New("unknown controller")

// ErrSignerPanic is wrapped around any panic recovered by Safe.
var ErrSignerPanic = errors.New("signer panicked")

// Signature is the result of signing a payload.  Hex is the 0x-prefixed
// concatenation r || s || v; R and S are 0x-prefixed 32-byte words.
type Signature struct {
	Hex string
	R   string
	S   string
	V   uint8
}

// Signer signs payload bytes with the key bound to controllerID.
type Signer interface {
	Sign(ctx context.Context, controllerID string, payload []byte) (Signature, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, controllerID string, payload []byte) (Signature, error)

// Sign calls f.
func (f SignerFunc) Sign(ctx context.Context, controllerID string, payload []byte) (Signature, error) {
	return f(ctx, controllerID, payload)
}

// Safe wraps s so that a panic inside Sign is converted into an error
// wrapping ErrSignerPanic instead of unwinding into the caller.
func Safe(s Signer) Signer {
	return SignerFunc(func(ctx context.Context, controllerID string, payload []byte) (sig Signature, err error) {
		defer func() {
			if r := recover(); r != nil {
				sig = Signature{}
				err = fmt.Errorf("%w: %v", ErrSignerPanic, r)
			}
		}()
		return s.Sign(ctx, controllerID, payload)
	})
}
