// Package profiles tracks the latest known profile metadata per public key,
// with last-write-wins resolution on the event timestamp.
package profiles

import (
	"encoding/json"
	"errors"
	"sync"

	log2 "github.com/piggypost/piggypost/pkg/log"
	"github.com/piggypost/piggypost/pkg/store"
	"github.com/piggypost/piggypost/pkg/timestamp"

	"github.com/puzpuzpuz/xsync/v2"
)

var log = log2.GetStd()

const keyPrefix = "profiles/"

// Profile is the metadata carried in the content of a profile event.
type Profile struct {
	Name  string `json:"name"`
	About string `json:"about,omitempty"`
}

// Record is a stored profile together with the timestamp of the event that
// set it.
type Record struct {
	Profile
	UpdatedAt timestamp.T `json:"updated_at"`
}

// Encode renders the profile as event content JSON.
func (p Profile) Encode() (string, error) {
	b, err := json.Marshal(p)
	return string(b), err
}

// ErrNoName marks profile content that carries no name field.
var ErrNoName = errors.New("profile content has no name field")

// ParseContent decodes a profile event content. Unknown fields are ignored;
// content without a name field is not a profile and is rejected.
func ParseContent(content string) (p Profile, err error) {
	var aux struct {
		Name  *string `json:"name"`
		About string  `json:"about"`
	}
	if err = json.Unmarshal([]byte(content), &aux); err != nil {
		return
	}
	if aux.Name == nil {
		return p, ErrNoName
	}
	p.Name = *aux.Name
	p.About = aux.About
	return
}

// Store is the profile table. Reads hit an in-process cache; writes go
// through to the KV when one is attached.
type Store struct {
	applyMx sync.Mutex
	cache   *xsync.MapOf[string, Record]
	kv      store.KV
}

// New creates a store. kv may be nil for a purely in-memory table.
func New(kv store.KV) *Store {
	return &Store{
		cache: xsync.NewMapOf[Record](),
		kv:    kv,
	}
}

// Get returns the current record for a public key.
func (s *Store) Get(pubkey string) (Record, bool) {
	if rec, ok := s.cache.Load(pubkey); ok {
		return rec, true
	}
	if s.kv == nil {
		return Record{}, false
	}
	b, err := s.kv.Get(keyPrefix + pubkey)
	if err != nil {
		if err != store.ErrNotFound {
			log.E.F("failed to read profile %s: %v", pubkey, err)
		}
		return Record{}, false
	}
	var rec Record
	if err = json.Unmarshal(b, &rec); err != nil {
		log.E.F("corrupt profile record %s: %v", pubkey, err)
		return Record{}, false
	}
	s.cache.Store(pubkey, rec)
	return rec, true
}

// Apply updates the record for pubkey if the event timestamp is not older
// than what is stored. Returns the previous record, whether one existed, and
// whether the update was applied.
func (s *Store) Apply(pubkey string, p Profile,
	at timestamp.T) (prev Record, existed, applied bool) {

	s.applyMx.Lock()
	defer s.applyMx.Unlock()

	prev, existed = s.Get(pubkey)
	if existed && at < prev.UpdatedAt {
		// a newer profile is already stored
		return prev, existed, false
	}

	rec := Record{Profile: p, UpdatedAt: at}
	s.cache.Store(pubkey, rec)
	if s.kv != nil {
		b, _ := json.Marshal(rec)
		if err := s.kv.Set(keyPrefix+pubkey, b); err != nil {
			// a failed write loses persistence, not the session
			log.E.F("failed to persist profile %s: %v", pubkey, err)
		}
	}
	return prev, existed, true
}

// DisplayName returns the profile name for a public key, falling back to a
// truncated form of the key itself.
func (s *Store) DisplayName(pubkey string) string {
	if rec, ok := s.Get(pubkey); ok && rec.Name != "" {
		return rec.Name
	}
	if len(pubkey) > 8 {
		return pubkey[:8] + "…"
	}
	return pubkey
}
