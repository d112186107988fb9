// Package checksum derives the version tokens of content-addressed store
// backends.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short abbreviates a version token for log lines and error messages.
func Short(version string) string {
	if len(version) > 12 {
		return version[:12]
	}
	return version
}
