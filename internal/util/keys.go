package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns prefix + ":" + the first 32 hex chars of sha256(key). Cache
// keys embed serialized arguments of arbitrary length; stores get a bounded key.
func HashKey(prefix, key string) string {
	sum := sha256.Sum256([]byte(key))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
