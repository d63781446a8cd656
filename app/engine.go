// Package app wires the identity, cipher, profile store and relay session
// into the chat engine.
package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/piggypost/piggypost/pkg/context"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"
	"github.com/piggypost/piggypost/pkg/kind"
	log2 "github.com/piggypost/piggypost/pkg/log"
	"github.com/piggypost/piggypost/pkg/nip4"
	"github.com/piggypost/piggypost/pkg/profiles"
	"github.com/piggypost/piggypost/pkg/relay"
	"github.com/piggypost/piggypost/pkg/tags"
	"github.com/piggypost/piggypost/pkg/timestamp"

	"github.com/puzpuzpuz/xsync/v2"
)

var log = log2.GetStd()

// Namespace is the tag value that scopes chat traffic to this application.
const Namespace = "piggypost"

// DefaultBacklog is how far back the initial subscription reaches.
const DefaultBacklog = time.Hour

// ErrSessionEnded is returned by Run when the relay connection is lost.
var ErrSessionEnded = errors.New("relay session ended")

// Transport is the slice of the relay session the engine uses. Tests provide
// their own.
type Transport interface {
	Connect(c context.T) error
	Subscribe(c context.T, ff []filter.T) (*relay.Subscription, error)
	Publish(c context.T, ev *event.T) error
	Close() error
}

var _ Transport = (*relay.Session)(nil)

// Recipient is the currently selected peer for directed messages.
type Recipient struct {
	PubKey string
	Name   string
}

// Callbacks receive the engine's deliverable happenings. Nil members are
// skipped. They are invoked from the engine's run goroutine, in relay order.
type Callbacks struct {
	OnPublicMessage    func(pubkey, name, text string, at timestamp.T)
	OnEncryptedMessage func(pubkey, name, text string, at timestamp.T)
	OnUserJoined       func(pubkey, name string, at timestamp.T)
	OnUserRenamed      func(pubkey, oldName, newName string, at timestamp.T)
	OnEndOfStored      func()
}

// Engine is the chat orchestrator: it owns the subscription, classifies and
// deduplicates incoming events, resolves display names and builds outgoing
// events.
type Engine struct {
	identity  *Identity
	transport Transport
	profiles  *profiles.Store
	callbacks Callbacks
	backlog   time.Duration

	seen    *xsync.MapOf[string, bool]
	secrets *xsync.MapOf[string, []byte]

	recipientMx sync.Mutex
	recipient   *Recipient
}

// NewEngine assembles an engine. The transport must not be connected yet;
// Run connects it.
func NewEngine(id *Identity, transport Transport, ps *profiles.Store,
	cb Callbacks) *Engine {

	return &Engine{
		identity:  id,
		transport: transport,
		profiles:  ps,
		callbacks: cb,
		backlog:   DefaultBacklog,
		seen:      xsync.NewMapOf[bool](),
		secrets:   xsync.NewMapOf[[]byte](),
	}
}

// Filters returns the subscription filters: every namespaced profile, public
// note and directed message since the backlog horizon.
func (e *Engine) Filters() []filter.T {
	since := timestamp.T(time.Now().Add(-e.backlog).Unix())
	return []filter.T{{
		Kinds: []kind.T{
			kind.ProfileMetadata,
			kind.TextNote,
			kind.EncryptedDirectMessage,
		},
		Tags:  filter.TagMap{"t": {Namespace}},
		Since: &since,
	}}
}

// Run connects, subscribes and processes incoming events until the context
// is done or the session ends. Callbacks fire from this goroutine.
func (e *Engine) Run(c context.T) error {
	if err := e.transport.Connect(c); err != nil {
		return err
	}

	sub, err := e.transport.Subscribe(c, e.Filters())
	if err != nil {
		return err
	}

	for {
		select {
		case <-c.Done():
			return c.Err()
		case <-sub.EndOfStoredEvents:
			if e.callbacks.OnEndOfStored != nil {
				e.callbacks.OnEndOfStored()
			}
		case reason := <-sub.ClosedReason:
			return fmt.Errorf("subscription closed by relay: %s", reason)
		case ev, ok := <-sub.Events:
			if !ok {
				return ErrSessionEnded
			}
			e.handleIncoming(ev)
		}
	}
}

// SetRecipient selects the peer for directed messages; nil returns to public
// mode.
func (e *Engine) SetRecipient(r *Recipient) {
	e.recipientMx.Lock()
	defer e.recipientMx.Unlock()
	e.recipient = r
}

// Recipient returns the currently selected peer, or nil in public mode.
func (e *Engine) Recipient() *Recipient {
	e.recipientMx.Lock()
	defer e.recipientMx.Unlock()
	return e.recipient
}

// Identity returns the local identity.
func (e *Engine) Identity() *Identity { return e.identity }

// Profiles returns the profile table.
func (e *Engine) Profiles() *profiles.Store { return e.profiles }

// Send publishes the text as a public note, or as an encrypted directed
// message when a recipient is selected. Leading and trailing whitespace is
// trimmed; an empty message is a no-op.
func (e *Engine) Send(c context.T, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	r := e.Recipient()
	if r == nil {
		return e.sendPublic(c, text)
	}
	return e.sendDirect(c, r, text)
}

func (e *Engine) sendPublic(c context.T, text string) error {
	ev, err := event.Build(kind.TextNote, text,
		tags.T{{"t", Namespace}}, e.identity.SecretKey)
	if err != nil {
		return err
	}
	return e.transport.Publish(c, ev)
}

func (e *Engine) sendDirect(c context.T, r *Recipient, text string) error {
	secret, err := e.sharedSecret(r.PubKey)
	if err != nil {
		return err
	}
	content, err := nip4.Encrypt(text, secret)
	if err != nil {
		return err
	}
	ev, err := event.Build(kind.EncryptedDirectMessage, content,
		tags.T{{"p", r.PubKey}, {"t", Namespace}}, e.identity.SecretKey)
	if err != nil {
		return err
	}
	return e.transport.Publish(c, ev)
}

// PublishProfile announces the profile and applies it locally so the change
// shows without a round trip.
func (e *Engine) PublishProfile(c context.T, p profiles.Profile) error {
	content, err := p.Encode()
	if err != nil {
		return err
	}
	ev, err := event.Build(kind.ProfileMetadata, content,
		tags.T{{"t", Namespace}}, e.identity.SecretKey)
	if err != nil {
		return err
	}
	if err = e.transport.Publish(c, ev); err != nil {
		return err
	}
	e.profiles.Apply(e.identity.PubKey, p, ev.CreatedAt)
	return nil
}

// handleIncoming classifies one verified event and fires the matching
// callback. Replayed and cross-filter duplicates are dropped here.
func (e *Engine) handleIncoming(ev *event.T) {
	if _, loaded := e.seen.LoadOrStore(ev.ID, true); loaded {
		return
	}

	switch v := event.Classify(ev).(type) {
	case event.Profile:
		e.handleProfile(v.Event())
	case event.Note:
		if e.callbacks.OnPublicMessage != nil {
			e.callbacks.OnPublicMessage(ev.PubKey,
				e.profiles.DisplayName(ev.PubKey), ev.Content, ev.CreatedAt)
		}
	case event.Direct:
		e.handleDirect(v.Event())
	default:
		log.D.F("ignoring event %s of kind %d", ev.ID, ev.Kind)
	}
}

func (e *Engine) handleProfile(ev *event.T) {
	p, err := profiles.ParseContent(ev.Content)
	if err != nil {
		log.D.F("unreadable profile from %s: %v", ev.PubKey, err)
		return
	}

	prev, existed, applied := e.profiles.Apply(ev.PubKey, p, ev.CreatedAt)
	if !applied {
		return
	}
	if !existed {
		if e.callbacks.OnUserJoined != nil {
			e.callbacks.OnUserJoined(ev.PubKey,
				e.profiles.DisplayName(ev.PubKey), ev.CreatedAt)
		}
		return
	}
	if prev.Name != p.Name && e.callbacks.OnUserRenamed != nil {
		e.callbacks.OnUserRenamed(ev.PubKey, prev.Name, p.Name, ev.CreatedAt)
	}
}

func (e *Engine) handleDirect(ev *event.T) {
	// a directed message not addressed to us is someone else's; it never
	// reaches the decryption step or the caller
	if !ev.Tags.ContainsAny("p", e.identity.PubKey) {
		return
	}

	secret, err := e.sharedSecret(ev.PubKey)
	if err != nil {
		log.D.F("no shared secret with %s: %v", ev.PubKey, err)
		return
	}

	text, err := nip4.Decrypt(ev.Content, secret)
	if err != nil {
		var decErr *nip4.DecryptionError
		if errors.As(err, &decErr) {
			log.D.F("undecryptable message %s from %s: %s", ev.ID, ev.PubKey,
				decErr.Reason)
			return
		}
		log.E.F("decrypt failure on %s: %v", ev.ID, err)
		return
	}

	if e.callbacks.OnEncryptedMessage != nil {
		e.callbacks.OnEncryptedMessage(ev.PubKey,
			e.profiles.DisplayName(ev.PubKey), text, ev.CreatedAt)
	}
}

func (e *Engine) sharedSecret(pub string) ([]byte, error) {
	if secret, ok := e.secrets.Load(pub); ok {
		return secret, nil
	}
	secret, err := nip4.ComputeSharedSecret(pub, e.identity.SecretKey)
	if err != nil {
		return nil, err
	}
	e.secrets.Store(pub, secret)
	return secret, nil
}
