package trace

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the hex blake3-256 digest of a canonical trace encoding.
// Empty input has no digest.
func Digest(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
