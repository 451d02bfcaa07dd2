package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-forensics/internal/domain"
)

// ComputeFlagID computes a deterministic flag ID using SHA256.
// Formula: SHA256(history_id|ruleset_id|category|severity|start_ms|end_ms)
// Returns hex-encoded hash (64 characters).
func ComputeFlagID(
	historyID string,
	rulesetID string,
	category domain.FlagCategory,
	severity domain.Severity,
	startMs int64,
	endMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		historyID,
		rulesetID,
		string(category),
		string(severity),
		startMs,
		endMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
