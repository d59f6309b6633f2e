package experiment

import (
	"crypto/sha256"
	"encoding/binary"
)

// Assignment is pure hashing over stable inputs, so any process computes
// the same variant for the same user without coordination. sha256 keeps
// the buckets uniform; the first 8 bytes are plenty of entropy for a
// percentage bucket.

// inclusionBucket maps a user to a bucket in [1, 100] used against the
// test's traffic allocation.
func inclusionBucket(testID, userID string) float64 {
	return float64(hashMod(testID+":"+userID, 100) + 1)
}

// variantPoint maps a user to a point in [0, 100) walked against the
// cumulative variant weights. A separate salt keeps inclusion and variant
// choice independent.
func variantPoint(testID, userID string) float64 {
	return float64(hashMod(testID+":"+userID+"-variant", 10000)) / 100
}

func hashMod(key string, mod uint64) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8]) % mod
}
