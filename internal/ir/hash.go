package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact = "ability/fact/v1"
	DomainSpec = "ability/spec/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactHash computes the content-addressed identity of a ground term.
// Two terms share a hash exactly when their canonical forms are equal.
func FactHash(e Expr) (string, error) {
	canonical, err := MarshalCanonical(e)
	if err != nil {
		return "", fmt.Errorf("FactHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// MustFactHash is like FactHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFactHash(e Expr) string {
	h, err := FactHash(e)
	if err != nil {
		panic(err)
	}
	return h
}

// SpecHash computes the identity of a compiled ability document.
// The document must already be in a deterministic byte form.
func SpecHash(doc []byte) string {
	return hashWithDomain(DomainSpec, doc)
}
