package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload separates payload fingerprints from any other hash use.
// Version suffix enables future algorithm migration.
const DomainPayload = "spendsync/payload/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for boundary ambiguity
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a content hash of an operation's target and payload.
// Two operations with the same fingerprint would send identical requests.
func Fingerprint(method Method, path []string, data Payload) (string, error) {
	obj := map[string]any{
		"method": string(method),
		"path":   path,
	}
	if data != nil {
		obj["data"] = map[string]any(data)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprint(method Method, path []string, data Payload) string {
	fp, err := Fingerprint(method, path, data)
	if err != nil {
		panic(err)
	}
	return fp
}
