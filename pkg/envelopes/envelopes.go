// Package envelopes implements the wire frames exchanged with a relay:
// EVENT, REQ, CLOSE, CLOSED, EOSE, NOTICE and OK, and the dispatcher that
// recognises them.
package envelopes

import (
	"bytes"
)

// E is a wire frame. The label is the first element of the JSON array that
// frames every relay message.
type E interface {
	Label() string
	UnmarshalJSON([]byte) error
	MarshalJSON() ([]byte, error)
	String() string
}

// ParseMessage recognises a raw relay message by its label and decodes it.
// Unrecognisable or undecodable messages return nil; the relay stream is
// untrusted and bad frames must not halt processing.
func ParseMessage(message []byte) E {
	firstComma := bytes.Index(message, []byte{','})
	if firstComma == -1 {
		return nil
	}
	label := message[0:firstComma]

	var v E
	switch {
	case bytes.Contains(label, []byte("EVENT")):
		v = &Event{}
	case bytes.Contains(label, []byte("REQ")):
		v = &Req{}
	case bytes.Contains(label, []byte("NOTICE")):
		x := Notice("")
		v = &x
	case bytes.Contains(label, []byte("EOSE")):
		x := EOSE("")
		v = &x
	case bytes.Contains(label, []byte("OK")):
		v = &OK{}
	case bytes.Contains(label, []byte("CLOSED")):
		v = &Closed{}
	case bytes.Contains(label, []byte("CLOSE")):
		x := Close("")
		v = &x
	default:
		return nil
	}

	if err := v.UnmarshalJSON(message); err != nil {
		return nil
	}
	return v
}
