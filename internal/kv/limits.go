package kv

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeySize is the default maximum key length in bytes.
	MaxKeySize = 1024
	// MaxValueSize is the default maximum value length in bytes.
	MaxValueSize = 1024 * 1024
	// DefaultCompactThreshold is the default log size, in bytes, above
	// which append triggers a synchronous compaction.
	DefaultCompactThreshold = 1024 * 1024
)

// base64Prefix is the literal token that marks an encoded binary value.
const base64Prefix = "base64:"

// ValidateKey enforces the key invariants from the data model: non-empty,
// no spaces, no embedded newline, not prefixed with the base64 escape
// token, valid UTF-8, and within maxLen bytes.
func ValidateKey(key string, maxLen int) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > maxLen {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \n") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, base64Prefix) {
		return ErrInvalidKey
	}
	if !utf8.ValidString(key) {
		return ErrInvalidKey
	}
	return nil
}

// ValidateValue enforces the value size invariant.
func ValidateValue(value []byte, maxLen int) error {
	if len(value) > maxLen {
		return ErrValueTooLarge
	}
	return nil
}
