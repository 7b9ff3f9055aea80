package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey returns a stable hex digest of the parts, separated so that
// ("ab", "c") and ("a", "bc") differ.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
