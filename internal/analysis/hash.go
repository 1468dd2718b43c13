package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex SHA-256 digest of a transcript. It is the
// idempotency key for deduplication; the text is hashed byte-for-byte.
func ContentHash(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}

// EmptyTranscriptHash is the digest of an empty transcript.
var EmptyTranscriptHash = ContentHash("")
