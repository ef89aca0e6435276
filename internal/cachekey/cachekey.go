// Package cachekey builds the keys relationship caches are stored under.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key returns the cache key of an unfiltered relationship: "table(column)".
func Key(table, column string) string {
	return fmt.Sprintf("%s(%s)", table, column)
}

// WithQuery suffixes key with the signature of a rendered filtered query,
// so each distinct filter gets its own cache slot: "table(column)#<signature>".
func WithQuery(key, rendered string) string {
	return key + "#" + Signature(rendered)
}

// Signature returns a 128-bit hex digest of a rendered query.
func Signature(rendered string) string {
	h := sha256.Sum256([]byte(rendered))
	return hex.EncodeToString(h[:16])
}
