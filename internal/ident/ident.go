// Package ident generates and validates endpoint identifiers.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Length is the number of hex characters in an endpoint ID.
const Length = 32

// New returns a 32-character lowercase hex identifier derived from a
// random UUID. Safe for concurrent use.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Valid reports whether s is a well-formed endpoint ID.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
