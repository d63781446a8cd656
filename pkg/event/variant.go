package event

import "github.com/piggypost/piggypost/pkg/kind"

// Variant is the closed set of event classifications the messaging engine
// handles. Classify produces exactly one of Profile, Note or Direct, so a
// type switch over Variant covers every deliverable event.
type Variant interface {
	Event() *T
	variant()
}

// Profile is a kind 0 profile announcement; the content carries the profile
// JSON.
type Profile struct{ *T }

// Note is a kind 1 public chat message with plaintext content.
type Note struct{ *T }

// Direct is a kind 4 directed message whose content is ciphertext for the
// pubkey named in the p tag.
type Direct struct{ *T }

func (p Profile) Event() *T { return p.T }
func (n Note) Event() *T    { return n.T }
func (d Direct) Event() *T  { return d.T }

func (Profile) variant() {}
func (Note) variant()    {}
func (Direct) variant()  {}

// Classify maps an event to its variant, or nil for kinds the client does
// not handle.
func Classify(ev *T) Variant {
	switch ev.Kind {
	case kind.ProfileMetadata:
		return Profile{ev}
	case kind.TextNote:
		return Note{ev}
	case kind.EncryptedDirectMessage:
		return Direct{ev}
	}
	return nil
}
