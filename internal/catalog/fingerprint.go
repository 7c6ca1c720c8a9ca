package catalog

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a cheap change detector for the remote document. Two
// fetches with the same Hash are treated as unchanged; it is not an
// integrity check.
type Fingerprint struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	ItemCount int       `json:"itemCount"`
}

// HashBytes is a 64-bit xxhash of the full document, hex encoded.
func HashBytes(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

func NewFingerprint(raw []byte, itemCount int, now time.Time) Fingerprint {
	return Fingerprint{
		Hash:      HashBytes(raw),
		Timestamp: now.UTC(),
		ItemCount: itemCount,
	}
}

// Changed reports whether other describes a different document.
func (f Fingerprint) Changed(other Fingerprint) bool {
	return f.Hash != other.Hash
}
