package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// recoveryV is reported as V for every signature.  ES256 signatures carry no
// recovery id; the value keeps the r || s || v layout expected downstream.
const recoveryV = 27

// Keyring holds one ECDSA P-256 key per controller and signs with ES256.
// The signing input is the 0x-prefixed hex of the payload.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*ecdsa.PrivateKey)}
}

// Add registers key for controllerID, replacing any previous key.
func (k *Keyring) Add(controllerID string, key *ecdsa.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[controllerID] = key
}

// Generate creates and registers a fresh key for controllerID.
func (k *Keyring) Generate(controllerID string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	k.Add(controllerID, key)
	return key, nil
}

// LoadDir registers every "<controller>.pem" file found in dir.  Files must
// hold a PEM encoded EC private key.
func (k *Keyring) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p, err)
		}
		key, err := jwt.ParseECPrivateKeyFromPEM(raw)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", p, err)
		}
		k.Add(strings.TrimSuffix(filepath.Base(p), ".pem"), key)
	}
	return len(paths), nil
}

func (k *Keyring) key(controllerID string) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[controllerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownController, controllerID)
	}
	return key, nil
}

// Sign implements Signer.
func (k *Keyring) Sign(ctx context.Context, controllerID string, payload []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	key, err := k.key(controllerID)
	if err != nil {
		return Signature{}, err
	}
	raw, err := jwt.SigningMethodES256.Sign(signingInput(payload), key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	// ES256 yields the fixed-width 64 byte r || s form.
	r, s := raw[:32], raw[32:]
	full := append(append([]byte{}, raw...), recoveryV)
	return Signature{
		Hex: "0x" + hex.EncodeToString(full),
		R:   "0x" + hex.EncodeToString(r),
		S:   "0x" + hex.EncodeToString(s),
		V:   recoveryV,
	}, nil
}

// Verify checks sig against payload with the public half of controllerID's
// key.
func (k *Keyring) Verify(controllerID string, payload []byte, sig Signature) error {
	key, err := k.key(controllerID)
	if err != nil {
		return err
	}
	full, err := hex.DecodeString(strings.TrimPrefix(sig.Hex, "0x"))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(full) != 65 {
		return fmt.Errorf("decode signature: unexpected length %d", len(full))
	}
	return jwt.SigningMethodES256.Verify(signingInput(payload), full[:64], &key.PublicKey)
}

func signingInput(payload []byte) string {
	return "0x" + hex.EncodeToString(payload)
}
