// Package idhash derives deterministic content IDs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"token-forensics/internal/domain"
)

// ComputeHistoryID hashes the canonical JSON form of h with its ID cleared,
// so equal histories share an ID.
// Returns hex-encoded hash (64 characters).
func ComputeHistoryID(h domain.AssetHistory) string {
	h.ID = ""
	data, err := json.Marshal(h)
	if err != nil {
		// only non-finite floats fail to encode; merge drops those
		data = []byte("unencodable:" + err.Error())
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
