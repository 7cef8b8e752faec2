package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Service signs canonical document payloads and verifies stored signatures.
// The payload is digested with SHA3-256 before signing so the stored
// signature commits to the full canonical byte sequence regardless of length.
type Service struct {
	keyring Keyring
}

// New constructs a signing service over the given keyring.
func New(keyring Keyring) *Service {
	return &Service{keyring: keyring}
}

// Sign digests and signs payload under the active key. The returned signature
// is base64 (raw URL alphabet) for storage alongside the document.
func (s *Service) Sign(payload []byte) (signature string, keyID string, err error) {
	keyID, priv, err := s.keyring.Active()
	if err != nil {
		return "", "", err
	}
	digest := sha3.Sum256(payload)
	sig := ed25519.Sign(priv, digest[:])
	return base64.RawURLEncoding.EncodeToString(sig), keyID, nil
}

// Verify checks a stored signature against the canonical payload using the
// public key identified by keyID. A nil return means the signature is intact.
func (s *Service) Verify(keyID string, payload []byte, signature string) error {
	pub, err := s.keyring.PublicKey(keyID)
	if err != nil {
		return err
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature encoding: %w", err)
	}
	digest := sha3.Sum256(payload)
	if !ed25519.Verify(pub, digest[:], sig) {
		return fmt.Errorf("signature does not match payload under key %s", keyID)
	}
	return nil
}
