package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeRulesetID computes a deterministic ruleset ID using SHA256 over
// the detector descriptions joined by newlines. Order matters.
// Returns hex-encoded hash (64 characters).
func ComputeRulesetID(detectors []string) string {
	hash := sha256.Sum256([]byte(strings.Join(detectors, "\n")))
	return hex.EncodeToString(hash[:])
}
