package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenHex returns n random bytes as a lowercase hex string.
func TokenHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("utils: read random: " + err.Error())
	}
	return hex.EncodeToString(b)
}
