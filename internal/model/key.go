package model

import (
	"errors"
	"fmt"
	"strings"
)

// KeyLength is the number of decimal digits in an NF-e access key.
const KeyLength = 44

// ErrInvalidKey is returned when a string is not a 44-digit access key.
var ErrInvalidKey = errors.New("document key must be exactly 44 digits")

// DocumentKey is a 44-digit NF-e access key.
//
// The zero value is not a valid key. Use ParseKey to build one from
// untrusted input.
type DocumentKey string

// ParseKey trims surrounding whitespace and validates s as a document key.
func ParseKey(s string) (DocumentKey, error) {
	s = strings.TrimSpace(s)
	if !IsValidKey(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return DocumentKey(s), nil
}

// IsValidKey reports whether s is exactly KeyLength ASCII digits.
func IsValidKey(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (k DocumentKey) String() string { return string(k) }

// Short returns the first ten digits, used in status lines and
// diagnostic file names.
func (k DocumentKey) Short() string {
	if len(k) <= 10 {
		return string(k)
	}
	return string(k[:10])
}

// ArtifactName is the file name the portal gives the downloaded XML.
func (k DocumentKey) ArtifactName() string {
	return string(k) + ".xml"
}

// Dedupe returns keys with later duplicates removed, preserving first
// occurrence order.
func Dedupe(keys []DocumentKey) []DocumentKey {
	seen := make(map[DocumentKey]struct{}, len(keys))
	out := make([]DocumentKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
