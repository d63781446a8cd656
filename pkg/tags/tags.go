// Package tags implements the ordered list of tags carried by an event.
package tags

import (
	"encoding/json"

	"github.com/piggypost/piggypost/pkg/tag"
)

// T is a list of tag.T - which are lists of string elements with ordering and
// no uniqueness constraint (not a set).
type T []tag.T

// GetFirst gets the first tag in tags that matches the prefix, see
// [tag.T.StartsWith].
func (t T) GetFirst(tagPrefix []string) *tag.T {
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			return &v
		}
	}
	return nil
}

// GetAll gets all the tags that match the prefix, see [tag.T.StartsWith].
func (t T) GetAll(tagPrefix ...string) T {
	result := make(T, 0, len(t))
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			result = append(result, v)
		}
	}
	return result
}

// AppendUnique appends a tag if no tag with the same first two elements
// exists yet, otherwise does nothing.
func (t T) AppendUnique(tg tag.T) T {
	n := len(tg)
	if n > 2 {
		n = 2
	}
	if t.GetFirst(tg[:n]) == nil {
		return append(t, tg)
	}
	return t
}

// ContainsAny returns true if any tag with the given name carries any of the
// given values in its value position.
func (t T) ContainsAny(tagName string, values ...string) bool {
	for _, v := range t {
		if len(v) < 2 {
			continue
		}
		if v.Key() != tagName {
			continue
		}
		for _, candidate := range values {
			if v.Value() == candidate {
				return true
			}
		}
	}
	return false
}

// MarshalTo appends the JSON encoded bytes of T as [][]string to dst. String
// escaping is as described in RFC 8259.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.MarshalTo(dst)
	}
	dst = append(dst, ']')
	return dst
}

func (t T) MarshalJSON() ([]byte, error) { return t.MarshalTo(nil), nil }

func (t *T) UnmarshalJSON(data []byte) error {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(T, len(raw))
	for i, v := range raw {
		out[i] = tag.T(v)
	}
	*t = out
	return nil
}

func (t T) String() string { return string(t.MarshalTo(nil)) }

// Clone returns a deep copy of the tag list.
func (t T) Clone() T {
	c := make(T, len(t))
	for i := range t {
		c[i] = t[i].Clone()
	}
	return c
}
