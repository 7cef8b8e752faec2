// Package verification is the public read path: given a verification code or
// a scanned payload it reconstructs the document's canonical form and reports
// a validity verdict. It is deliberately decoupled from the write path so it
// can run unauthenticated behind a rate limit.
package verification

import "context"

// TamperChecks itemizes the three independent checks. They are only exposed
// for a document that passed checksum and signature; everything else
// collapses into the generic invalid result.
type TamperChecks struct {
	ChecksumValid  bool `json:"checksumValid"`
	SignatureValid bool `json:"signatureValid"`
	NotRevoked     bool `json:"notRevoked"`
}

// Result is the public verdict. An unknown, tampered or malformed code
// yields Valid false and nothing else: the response never distinguishes
// "wrong code" from "forged document".
type Result struct {
	Valid            bool          `json:"valid"`
	DocumentType     string        `json:"documentType,omitempty"`
	IssuedDate       string        `json:"issuedDate,omitempty"`
	HolderNameMasked string        `json:"holderNameMasked,omitempty"`
	TamperChecks     *TamperChecks `json:"tamperChecks,omitempty"`
}

// Invalid is the one generic negative response.
func Invalid() Result { return Result{Valid: false} }

// RateLimiter bounds lookups per anonymized source.
type RateLimiter interface {
	Allow(ctx context.Context, source string) (bool, error)
}
