package signing

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScanClaims is the structured payload encoded into the document's barcode.
// A verifier holding the public key bundle can check it fully offline: the
// JWS signature covers the claims, and the embedded MRZ line carries its own
// check digits.
type ScanClaims struct {
	DocumentID       string `json:"doc_id"`
	VerificationCode string `json:"code"`
	DocumentType     string `json:"doc_type"`
	MRZLine2         string `json:"mrz2"`
	HolderNameMasked string `json:"holder"`
	jwt.RegisteredClaims
}

const scanIssuer = "cachet-issuance"

// EncodeScanToken signs the scan payload as an EdDSA JWS under the active
// key, recording the key identifier in the kid header for offline key lookup.
func EncodeScanToken(claims ScanClaims, keyring Keyring, issuedAt time.Time) (string, error) {
	keyID, priv, err := keyring.Active()
	if err != nil {
		return "", err
	}
	claims.Issuer = scanIssuer
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = keyID
	return tok.SignedString(priv)
}

// DecodeScanToken parses and verifies a scanned JWS, resolving the public key
// through the keyring by kid. Tokens signed by unknown keys or non-EdDSA
// methods are rejected.
func DecodeScanToken(raw string, keyring Keyring) (*ScanClaims, error) {
	claims := &ScanClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("scan token missing kid header")
			}
			return keyring.PublicKey(kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(scanIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse scan token: %w", err)
	}
	return claims, nil
}
