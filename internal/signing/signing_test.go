package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cachet/pkg/domain-errors"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)
	svc := New(ring)

	payload := []byte("type=passport|holder=ERIKSSON|mrz2=L898902C36UTO...")
	sig, keyID, err := svc.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, "k-2026-01", keyID)

	assert.NoError(t, svc.Verify(keyID, payload, sig))
}

// TestVerify_SingleByteMutation pins the tamper property: flipping any one
// byte of the canonical payload must fail verification.
func TestVerify_SingleByteMutation(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)
	svc := New(ring)

	payload := []byte("type=passport|holder=ERIKSSON")
	sig, keyID, err := svc.Sign(payload)
	require.NoError(t, err)

	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		assert.Error(t, svc.Verify(keyID, mutated, sig), "mutation at byte %d", i)
	}
}

func TestVerify_AfterRotation(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)
	svc := New(ring)

	payload := []byte("issued under the first key")
	sig, keyID, err := svc.Sign(payload)
	require.NoError(t, err)

	// Rotate twice; the historical key must stay resolvable.
	require.NoError(t, ring.Rotate("k-2026-07"))
	require.NoError(t, ring.Rotate("k-2027-01"))

	assert.NoError(t, svc.Verify(keyID, payload, sig))

	// New documents sign under the new key.
	_, newKeyID, err := svc.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, "k-2027-01", newKeyID)
}

func TestSign_KeyUnavailableIsFatal(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)
	ring.Retire("k-2026-01")

	svc := New(ring)
	_, _, err = svc.Sign([]byte("anything"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureKeyUnavailable))
}

func TestVerify_WrongKeyFails(t *testing.T) {
	ring, err := NewMemoryKeyring("k-a")
	require.NoError(t, err)
	svc := New(ring)

	payload := []byte("payload")
	sig, _, err := svc.Sign(payload)
	require.NoError(t, err)

	require.NoError(t, ring.Rotate("k-b"))
	assert.Error(t, svc.Verify("k-b", payload, sig), "signature from k-a must not verify under k-b")
	_, err = ring.PublicKey("k-missing")
	assert.Error(t, err)
}

func TestScanToken_RoundTrip(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)

	claims := ScanClaims{
		DocumentID:       "0d4b7a39-6f54-4f6e-9f5d-3a2b1c0d9e8f",
		VerificationCode: "7Q2MKX9ZPT4RW6ABCDEFGH3JN",
		DocumentType:     "passport",
		MRZLine2:         "L898902C36UTO7408122F1204159ZE184226B<<<<<10",
		HolderNameMasked: "E******* A***",
	}
	raw, err := EncodeScanToken(claims, ring, time.Now())
	require.NoError(t, err)

	decoded, err := DecodeScanToken(raw, ring)
	require.NoError(t, err)
	assert.Equal(t, claims.DocumentID, decoded.DocumentID)
	assert.Equal(t, claims.VerificationCode, decoded.VerificationCode)
	assert.Equal(t, claims.MRZLine2, decoded.MRZLine2)
}

func TestScanToken_SurvivesRotation(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)

	raw, err := EncodeScanToken(ScanClaims{DocumentType: "id_card"}, ring, time.Now())
	require.NoError(t, err)

	require.NoError(t, ring.Rotate("k-2027-01"))

	decoded, err := DecodeScanToken(raw, ring)
	require.NoError(t, err)
	assert.Equal(t, "id_card", decoded.DocumentType)
}

func TestScanToken_RejectsTampering(t *testing.T) {
	ring, err := NewMemoryKeyring("k-2026-01")
	require.NoError(t, err)

	raw, err := EncodeScanToken(ScanClaims{DocumentType: "passport"}, ring, time.Now())
	require.NoError(t, err)

	// Flip one character in the signature segment.
	tampered := raw[:len(raw)-2] + "AA"
	_, err = DecodeScanToken(tampered, ring)
	assert.Error(t, err)

	// A token signed by a key the verifier never saw is rejected.
	otherRing, err := NewMemoryKeyring("k-rogue")
	require.NoError(t, err)
	rogue, err := EncodeScanToken(ScanClaims{DocumentType: "passport"}, otherRing, time.Now())
	require.NoError(t, err)
	_, err = DecodeScanToken(rogue, ring)
	assert.Error(t, err)
}
