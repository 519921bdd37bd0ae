package config

import (
	"crypto/sha256"
	"encoding/hex"
)

// IntegrationID derives a stable identifier for an integration from its
// remote URL, per spec.md §3 ("stable ID derived from remote URL").
func IntegrationID(remote string) string {
	sum := sha256.Sum256([]byte(remote))
	return hex.EncodeToString(sum[:])[:12]
}
