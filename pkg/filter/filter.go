// Package filter implements the subscription predicate sent to relays and
// matched against incoming events.
package filter

import (
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/kind"
	"github.com/piggypost/piggypost/pkg/timestamp"
)

// T is a subscription filter. Zero-valued fields are omitted from the wire
// form and constrain nothing.
type T struct {
	IDs     []string
	Kinds   []kind.T
	Authors []string
	Tags    TagMap
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   int
}

// TagMap maps a tag key to the set of allowed values. On the wire each key is
// prefixed with '#'.
type TagMap map[string][]string

// Matches reports whether the event satisfies every constraint in the filter.
func (f T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}

	if f.IDs != nil && !slices.Contains(f.IDs, ev.ID) {
		return false
	}

	if f.Kinds != nil && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}

	if f.Authors != nil && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}

	for key, values := range f.Tags {
		if values != nil && !ev.Tags.ContainsAny(key, values...) {
			return false
		}
	}

	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}

	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}

	return true
}

// Equal reports whether two filters constrain the same set of events.
func Equal(a, b T) bool {
	if !similar(a.Kinds, b.Kinds) {
		return false
	}
	if !similar(a.IDs, b.IDs) {
		return false
	}
	if !similar(a.Authors, b.Authors) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for key, av := range a.Tags {
		bv, ok := b.Tags[key]
		if !ok || !similar(av, bv) {
			return false
		}
	}
	if !pointerValuesEqual(a.Since, b.Since) {
		return false
	}
	if !pointerValuesEqual(a.Until, b.Until) {
		return false
	}
	return a.Limit == b.Limit
}

// Clone returns a deep copy of the filter.
func (f T) Clone() T {
	clone := T{
		IDs:     slices.Clone(f.IDs),
		Kinds:   slices.Clone(f.Kinds),
		Authors: slices.Clone(f.Authors),
		Limit:   f.Limit,
	}

	if f.Tags != nil {
		clone.Tags = make(TagMap, len(f.Tags))
		for k, v := range f.Tags {
			clone.Tags[k] = slices.Clone(v)
		}
	}

	if f.Since != nil {
		since := *f.Since
		clone.Since = &since
	}

	if f.Until != nil {
		until := *f.Until
		clone.Until = &until
	}

	return clone
}

// MarshalJSON writes the wire form, with tag constraints as '#'-prefixed
// keys.
func (f T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	f.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// MarshalEasyJSON writes the filter to a jwriter for embedding into wire
// frames.
func (f T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	first := true
	comma := func() {
		if !first {
			w.RawByte(',')
		}
		first = false
	}
	if f.IDs != nil {
		comma()
		w.RawString(`"ids":`)
		writeStrings(w, f.IDs)
	}
	if f.Kinds != nil {
		comma()
		w.RawString(`"kinds":[`)
		for i, k := range f.Kinds {
			if i > 0 {
				w.RawByte(',')
			}
			w.Int64(int64(k))
		}
		w.RawByte(']')
	}
	if f.Authors != nil {
		comma()
		w.RawString(`"authors":`)
		writeStrings(w, f.Authors)
	}
	for _, key := range sortedKeys(f.Tags) {
		comma()
		w.String("#" + key)
		w.RawByte(':')
		writeStrings(w, f.Tags[key])
	}
	if f.Since != nil {
		comma()
		w.RawString(`"since":`)
		w.Int64(f.Since.Int())
	}
	if f.Until != nil {
		comma()
		w.RawString(`"until":`)
		w.Int64(f.Until.Int())
	}
	if f.Limit > 0 {
		comma()
		w.RawString(`"limit":`)
		w.Int64(int64(f.Limit))
	}
	w.RawByte('}')
}

// UnmarshalJSON parses the wire form. Unknown keys are ignored.
func (f *T) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errInvalid
	}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		return errInvalid
	}
	out := T{}
	r.ForEach(func(key, value gjson.Result) bool {
		switch k := key.Str; {
		case k == "ids":
			out.IDs = stringValues(value)
		case k == "kinds":
			for _, v := range value.Array() {
				out.Kinds = append(out.Kinds, kind.T(v.Int()))
			}
		case k == "authors":
			out.Authors = stringValues(value)
		case k == "since":
			since := timestamp.T(value.Int())
			out.Since = &since
		case k == "until":
			until := timestamp.T(value.Int())
			out.Until = &until
		case k == "limit":
			out.Limit = int(value.Int())
		case len(k) > 1 && k[0] == '#':
			if out.Tags == nil {
				out.Tags = make(TagMap)
			}
			out.Tags[k[1:]] = stringValues(value)
		}
		return true
	})
	*f = out
	return nil
}

func (f T) String() string {
	b, _ := f.MarshalJSON()
	return string(b)
}

var errInvalid = &invalidFilterError{}

type invalidFilterError struct{}

func (*invalidFilterError) Error() string { return "invalid filter JSON" }

func writeStrings(w *jwriter.Writer, ss []string) {
	w.RawByte('[')
	for i, s := range ss {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(s)
	}
	w.RawByte(']')
}

func stringValues(r gjson.Result) (out []string) {
	out = make([]string, 0)
	for _, v := range r.Array() {
		out = append(out, v.Str)
	}
	return
}

func sortedKeys(m TagMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func pointerValuesEqual[V comparable](a, b *V) bool {
	if a == nil && b == nil {
		return true
	}
	if a != nil && b != nil {
		return *a == *b
	}
	return false
}

func similar[E constraints.Ordered](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}

	for _, a := range as {
		if !slices.Contains(bs, a) {
			return false
		}
	}

	return true
}
