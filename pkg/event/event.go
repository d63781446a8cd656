// Package event implements the protocol event envelope: construction,
// canonical serialization, signing and verification.
package event

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/mailru/easyjson/jwriter"
	"github.com/minio/sha256-simd"

	"github.com/piggypost/piggypost/pkg/escape"
	"github.com/piggypost/piggypost/pkg/kind"
	"github.com/piggypost/piggypost/pkg/tags"
	"github.com/piggypost/piggypost/pkg/timestamp"
)

// T is the primary datatype of the protocol. This is the form of the
// structure that defines its JSON string based format.
type T struct {

	// ID is the SHA256 hash of the canonical encoding of the event.
	ID string `json:"id"`

	// PubKey is the public key of the event creator in hexadecimal format.
	PubKey string `json:"pubkey"`

	// CreatedAt is the UNIX timestamp of the event according to the event
	// creator (never trust a timestamp!).
	CreatedAt timestamp.T `json:"created_at"`

	// Kind is the protocol code for the type of event. See kind.T.
	Kind kind.T `json:"kind"`

	// Tags are a list of tags, usually two element string lists indicating
	// specific features of an event.
	Tags tags.T `json:"tags"`

	// Content is an arbitrary string, conforming to a specification relating
	// to the Kind.
	Content string `json:"content"`

	// Sig is the signature on the ID hash that validates as coming from the
	// PubKey.
	Sig string `json:"sig"`
}

// Hash returns the SHA256 digest of in.
func Hash(in []byte) []byte {
	h := sha256.Sum256(in)
	return h[:]
}

// Build assembles and signs an event of the given kind, stamping CreatedAt at
// call time. The secret key also determines the PubKey field.
func Build(k kind.T, content string, t tags.T, sk string) (*T, error) {
	ev := &T{
		CreatedAt: timestamp.Now(),
		Kind:      k,
		Tags:      t,
		Content:   content,
	}
	if err := ev.Sign(sk); err != nil {
		return nil, err
	}
	return ev, nil
}

// Serialize outputs a byte array that can be hashed and signed to identify
// and authenticate the event.
func (ev *T) Serialize() []byte {
	// the serialization process is just putting everything into a JSON array
	// so the order is kept: [0,pubkey,created_at,kind,tags,content]
	dst := make([]byte, 0, len(ev.Content)+128)
	dst = append(dst, '[', '0', ',')
	dst = escape.String(dst, ev.PubKey)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, ev.CreatedAt.Int(), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(ev.Kind), 10)
	dst = append(dst, ',')
	dst = ev.Tags.MarshalTo(dst)
	dst = append(dst, ',')
	// content needs to be escaped in general as it is user generated.
	dst = escape.String(dst, ev.Content)
	dst = append(dst, ']')
	return dst
}

// GetID serializes and returns the event ID as a hexadecimal string.
func (ev *T) GetID() string {
	return hex.EncodeToString(Hash(ev.Serialize()))
}

// Sign signs the event with the given hex secret key, populating PubKey, ID
// and Sig.
func (ev *T) Sign(privateKey string) error {
	s, err := hex.DecodeString(privateKey)
	if err != nil {
		return fmt.Errorf("sign called with invalid secret key: %w", err)
	}

	if ev.Tags == nil {
		ev.Tags = make(tags.T, 0)
	}

	sk, pk := btcec.PrivKeyFromBytes(s)
	ev.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pk))

	h := Hash(ev.Serialize())
	sig, err := schnorr.Sign(sk, h)
	if err != nil {
		return err
	}

	ev.ID = hex.EncodeToString(h)
	ev.Sig = hex.EncodeToString(sig.Serialize())

	return nil
}

// CheckSignature checks if the signature is valid for the serialized event
// content. It returns an error if the key or signature themselves are
// malformed.
func (ev *T) CheckSignature() (bool, error) {
	pk, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false, fmt.Errorf("event pubkey '%s' is invalid hex: %w",
			ev.PubKey, err)
	}

	pubkey, err := schnorr.ParsePubKey(pk)
	if err != nil {
		return false, fmt.Errorf("event has invalid pubkey '%s': %w",
			ev.PubKey, err)
	}

	s, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false, fmt.Errorf("signature '%s' is invalid hex: %w",
			ev.Sig, err)
	}
	sig, err := schnorr.ParseSignature(s)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}

	return sig.Verify(Hash(ev.Serialize()), pubkey), nil
}

// Verify recomputes the canonical ID and checks both the ID match and the
// signature. Malformed events verify as false, never as an error.
func (ev *T) Verify() bool {
	if ev.GetID() != ev.ID {
		return false
	}
	ok, err := ev.CheckSignature()
	return err == nil && ok
}

// MarshalJSON encodes the event as the wire JSON object.
func (ev *T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	ev.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// MarshalEasyJSON writes the event to a jwriter, for embedding into wire
// frames without intermediate allocations.
func (ev *T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(ev.ID)
	w.RawString(`,"pubkey":`)
	w.String(ev.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(ev.CreatedAt.Int())
	w.RawString(`,"kind":`)
	w.Int64(int64(ev.Kind))
	w.RawString(`,"tags":`)
	w.Raw(ev.Tags.MarshalJSON())
	w.RawString(`,"content":`)
	w.String(ev.Content)
	w.RawString(`,"sig":`)
	w.String(ev.Sig)
	w.RawString(`}`)
}

// String returns the raw wire JSON of the event.
func (ev *T) String() string {
	b, _ := ev.MarshalJSON()
	return string(b)
}
