package util

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns a URL safe random token carrying n bytes of entropy.
func NewToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
