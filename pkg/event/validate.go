package event

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/piggypost/piggypost/pkg/kind"
	"github.com/piggypost/piggypost/pkg/tag"
	"github.com/piggypost/piggypost/pkg/tags"
	"github.com/piggypost/piggypost/pkg/timestamp"
)

// Status is the outcome of validating a raw incoming event.
type Status int

const (
	// Rejected means the raw bytes failed structural validation and no event
	// could be constructed from them.
	Rejected Status = iota
	// Unverified means the event is well-formed but its ID or signature do
	// not check out.
	Unverified
	// Accepted means the event is well-formed and authentic.
	Accepted
)

func (s Status) String() string {
	switch s {
	case Rejected:
		return "rejected"
	case Unverified:
		return "unverified"
	case Accepted:
		return "accepted"
	}
	return "unknown"
}

// MalformedEventError reports a structural validation failure on ingress.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

func malformed(format string, a ...interface{}) error {
	return &MalformedEventError{Reason: fmt.Sprintf(format, a...)}
}

// Parse structurally validates raw bytes as an event JSON object and builds
// the event. It performs no cryptographic checks; see Validate for the full
// ingress path.
func Parse(raw []byte) (*T, error) {
	if !gjson.ValidBytes(raw) {
		return nil, malformed("invalid JSON")
	}
	return FromResult(gjson.ParseBytes(raw))
}

// FromResult builds an event from an already parsed gjson value, applying the
// same structural checks as Parse.
func FromResult(r gjson.Result) (*T, error) {
	if !r.IsObject() {
		return nil, malformed("not a JSON object")
	}

	ev := &T{}

	for _, field := range []string{"id", "pubkey", "sig", "content"} {
		v := r.Get(field)
		if v.Type != gjson.String {
			return nil, malformed("field '%s' is not a string", field)
		}
	}
	ev.ID = r.Get("id").Str
	ev.PubKey = r.Get("pubkey").Str
	ev.Sig = r.Get("sig").Str
	ev.Content = r.Get("content").Str

	ca := r.Get("created_at")
	if ca.Type != gjson.Number || ca.Num != float64(int64(ca.Num)) {
		return nil, malformed("created_at is not an integer")
	}
	ev.CreatedAt = timestamp.T(ca.Int())

	k := r.Get("kind")
	if k.Type != gjson.Number || k.Num != float64(int64(k.Num)) {
		return nil, malformed("kind is not an integer")
	}
	ev.Kind = kind.T(k.Int())

	tg := r.Get("tags")
	if !tg.IsArray() {
		return nil, malformed("tags is not an array")
	}
	ev.Tags = make(tags.T, 0)
	var bad error
	tg.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsArray() {
			bad = malformed("tag entry is not an array")
			return false
		}
		var t tag.T
		entry.ForEach(func(_, el gjson.Result) bool {
			if el.Type != gjson.String {
				bad = malformed("tag element is not a string")
				return false
			}
			t = append(t, el.Str)
			return true
		})
		if bad != nil {
			return false
		}
		ev.Tags = append(ev.Tags, t)
		return true
	})
	if bad != nil {
		return nil, bad
	}

	return ev, nil
}

// Validate is the full ingress path for raw incoming event bytes: structural
// validation first, then ID and signature verification. Only Accepted events
// may be dispatched further.
func Validate(raw []byte) (*T, Status) {
	ev, err := Parse(raw)
	if err != nil {
		return nil, Rejected
	}
	if !ev.Verify() {
		return ev, Unverified
	}
	return ev, Accepted
}

// UnmarshalJSON decodes the wire JSON object form, applying structural
// validation but no signature check.
func (ev *T) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*ev = *parsed
	return nil
}
