package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Key derives a deterministic cache key from the given parts.
// Each part is length-prefixed before hashing so that ("ab", "c") and
// ("a", "bc") never collide.
func Key(parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
