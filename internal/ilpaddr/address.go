// Package ilpaddr implements ILP-style hierarchical addresses: dot-separated
// label sequences used to address agents and connectors across the fabric.
package ilpaddr

import (
	"errors"
	"strings"
)

// MaxLength is the maximum encoded length of an Address, in bytes (§3).
const MaxLength = 1023

var (
	// ErrEmpty is returned when an address has no labels.
	ErrEmpty = errors.New("ilpaddr: address is empty")
	// ErrTooLong is returned when an address exceeds MaxLength bytes.
	ErrTooLong = errors.New("ilpaddr: address exceeds maximum length")
	// ErrEmptyLabel is returned when a label between dots is empty.
	ErrEmptyLabel = errors.New("ilpaddr: empty label")
	// ErrTrailingDot is returned when the address ends with a dot.
	ErrTrailingDot = errors.New("ilpaddr: trailing dot")
	// ErrInvalidChar is returned when a label contains a disallowed character.
	ErrInvalidChar = errors.New("ilpaddr: invalid character in label")
)

// Address is a validated, dot-separated sequence of lowercase labels.
type Address struct {
	raw    string
	labels []string
}

// Parse validates s and returns the corresponding Address.
func Parse(s string) (Address, error) {
	if len(s) == 0 {
		return Address{}, ErrEmpty
	}
	if len(s) > MaxLength {
		return Address{}, ErrTooLong
	}
	if strings.HasSuffix(s, ".") {
		return Address{}, ErrTrailingDot
	}
	labels := strings.Split(s, ".")
	for _, l := range labels {
		if l == "" {
			return Address{}, ErrEmptyLabel
		}
		for _, c := range l {
			if !isLabelChar(c) {
				return Address{}, ErrInvalidChar
			}
		}
	}
	return Address{raw: s, labels: labels}, nil
}

// MustParse is Parse, panicking on error. Intended for tests and static config.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func isLabelChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '~' || c == '-':
		return true
	default:
		return false
	}
}

// String returns the canonical dotted representation.
func (a Address) String() string { return a.raw }

// IsZero reports whether a is the zero value (unparsed).
func (a Address) IsZero() bool { return a.raw == "" && a.labels == nil }

// Equal reports whether a and b denote the same address.
func (a Address) Equal(b Address) bool { return a.raw == b.raw }

// Labels returns the address's dot-separated labels.
func (a Address) Labels() []string { return a.labels }

// HasStrictPrefix reports whether p is a label-aligned strict prefix of a:
// a equals p, or a starts with p followed by a dot (§4.1).
func (a Address) HasStrictPrefix(p Address) bool {
	if a.raw == p.raw {
		return true
	}
	return strings.HasPrefix(a.raw, p.raw+".")
}
