// Package tag implements the event tag, a list of strings with a literal
// ordering where the first element names the tag type.
package tag

import (
	"github.com/piggypost/piggypost/pkg/escape"
)

// The tag position meanings so they are clear when reading.
const (
	Key = iota
	Value
)

// T is a list of strings with a literal ordering.
//
// Not a set, there can be repeating elements.
type T []string

// Key returns the first element of the tag.
func (t T) Key() string {
	if len(t) > Key {
		return t[Key]
	}
	return ""
}

// Value returns the second element of the tag.
func (t T) Value() string {
	if len(t) > Value {
		return t[Value]
	}
	return ""
}

// StartsWith checks whether the tag has the same initial set of elements as
// the prefix.
func (t T) StartsWith(prefix []string) bool {
	if len(prefix) > len(t) {
		return false
	}
	for i := range prefix {
		if prefix[i] != t[i] {
			return false
		}
	}
	return true
}

// MarshalTo appends the JSON encoding of the tag to dst. String escaping is
// as described in RFC 8259.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, s := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = escape.String(dst, s)
	}
	dst = append(dst, ']')
	return dst
}

func (t T) String() string { return string(t.MarshalTo(nil)) }

// Clone returns a copy sharing no backing array with the original.
func (t T) Clone() T {
	c := make(T, len(t))
	copy(c, t)
	return c
}
