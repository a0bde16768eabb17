package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashText returns a stable hex digest used as a cache key for text content.
func HashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum)
}
