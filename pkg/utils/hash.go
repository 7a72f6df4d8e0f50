package utils

import (
	"crypto/md5"
	"fmt"
)

// HashString returns a hex md5 digest. Used for deterministic document IDs
// and cache keys, not for anything security-sensitive.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
