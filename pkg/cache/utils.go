package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const keySep = ":"

// GenerateKey joins non-empty parts with ":".
func GenerateKey(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, keySep)
}

// HashKey returns the hex MD5 of key, used to bound key length for
// arbitrary filters.
func HashKey(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// BuildPattern returns the glob matching every key under prefix.
func BuildPattern(prefix string) string {
	return prefix + keySep + "*"
}
