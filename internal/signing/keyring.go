// Package signing wraps the issuing authority's Ed25519 keys. Documents are
// signed under a named key so verification can locate the historical public
// key by signingKeyId long after the key stopped being the active one.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	dErrors "cachet/pkg/domain-errors"
)

// Keyring resolves signing keys. The production implementation is expected to
// front an external key registry; the in-memory ring below covers single-node
// deployments and tests. Old public keys must remain resolvable indefinitely
// for documents already issued under them.
type Keyring interface {
	// Active returns the current signing key and its identifier.
	Active() (keyID string, priv ed25519.PrivateKey, err error)
	// PublicKey resolves a historical or current public key by identifier.
	PublicKey(keyID string) (ed25519.PublicKey, error)
}

// MemoryKeyring keeps every generated keypair and rotates in place. Public
// keys are never evicted.
type MemoryKeyring struct {
	mu     sync.RWMutex
	active string
	priv   map[string]ed25519.PrivateKey
	pub    map[string]ed25519.PublicKey
}

// NewMemoryKeyring generates an initial keypair under the given identifier.
func NewMemoryKeyring(keyID string) (*MemoryKeyring, error) {
	k := &MemoryKeyring{
		priv: make(map[string]ed25519.PrivateKey),
		pub:  make(map[string]ed25519.PublicKey),
	}
	if err := k.Rotate(keyID); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate generates a fresh keypair under keyID and makes it active. Previous
// public keys stay resolvable.
func (k *MemoryKeyring) Rotate(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("key id must not be empty")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ed25519 key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.pub[keyID]; exists {
		return fmt.Errorf("key id %s already exists", keyID)
	}
	k.priv[keyID] = priv
	k.pub[keyID] = pub
	k.active = keyID
	return nil
}

// Retire drops the private half of a key, keeping the public half for
// verification. Retiring the active key leaves the ring without a signer.
func (k *MemoryKeyring) Retire(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.priv, keyID)
	if k.active == keyID {
		k.active = ""
	}
}

func (k *MemoryKeyring) Active() (string, ed25519.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == "" {
		return "", nil, dErrors.New(dErrors.CodeSignatureKeyUnavailable, "no active signing key")
	}
	priv, ok := k.priv[k.active]
	if !ok {
		return "", nil, dErrors.New(dErrors.CodeSignatureKeyUnavailable, "active signing key material missing")
	}
	return k.active, priv, nil
}

func (k *MemoryKeyring) PublicKey(keyID string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.pub[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", keyID)
	}
	return pub, nil
}
