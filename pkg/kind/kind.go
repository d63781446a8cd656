// Package kind holds the event kind codes the client understands.
package kind

// T is the protocol code classifying the semantic type of an event.
type T int

const (
	// ProfileMetadata announces a user's display profile as a JSON object in
	// the event content.
	ProfileMetadata T = 0
	// TextNote is a plaintext public chat message.
	TextNote T = 1
	// EncryptedDirectMessage carries a ciphertext payload addressed to the
	// pubkey named in the event's p tag.
	EncryptedDirectMessage T = 4
)

var names = map[T]string{
	ProfileMetadata:        "profile_metadata",
	TextNote:               "text_note",
	EncryptedDirectMessage: "encrypted_direct_message",
}

func (k T) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}
