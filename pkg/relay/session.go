// Package relay implements the client side of a relay connection: a session
// owning the websocket, a write queue, publish acknowledgement tracking and
// subscription dispatch.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piggypost/piggypost/pkg/connection"
	"github.com/piggypost/piggypost/pkg/context"
	"github.com/piggypost/piggypost/pkg/envelopes"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"
	log2 "github.com/piggypost/piggypost/pkg/log"

	"github.com/puzpuzpuz/xsync/v2"
	"lukechampine.com/frand"
)

var log = log2.GetStd()

// State describes where a session is in its lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	}
	return "unknown"
}

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("not connected to relay")
	// ErrUnsignedEvent is returned when an event without a signature is given
	// to Publish.
	ErrUnsignedEvent = errors.New("refusing to publish an unsigned event")
)

var subscriptionIDCounter atomic.Int32

// Conn is the transport a session runs on. *connection.C satisfies it; tests
// substitute their own.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage(c context.T, buf io.Writer) error
	Close() error
}

// Dialer opens a Conn to a relay URL.
type Dialer func(c context.T, url string, header http.Header) (Conn, error)

func defaultDialer(c context.T, url string, header http.Header) (Conn, error) {
	return connection.New(c, url, header)
}

// Session is a client connection to one relay. It owns the websocket and
// serializes all writes through a queue; at most one subscription is active
// at a time, a new Subscribe replaces the previous one.
type Session struct {
	closeMutex sync.Mutex

	URL           string
	RequestHeader http.Header

	Connection    Conn
	subscriptions *xsync.MapOf[string, *Subscription]

	ConnectionError         error
	connectionContext       context.T
	connectionContextCancel context.F

	state   atomic.Int32
	notices chan string

	okCallbacks *xsync.MapOf[string, func(bool, string)]
	writeQueue  chan writeRequest

	dialer Dialer

	subMutex sync.Mutex
	current  *Subscription
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// Option configures a session at construction.
type Option interface {
	IsSessionOption()
}

// WithNoticeHandler receives NOTICE texts from the relay. When not given,
// notices are logged.
type WithNoticeHandler func(notice string)

func (WithNoticeHandler) IsSessionOption() {}

// WithDialer substitutes the transport constructor, used in tests.
type WithDialer Dialer

func (WithDialer) IsSessionOption() {}

// New returns an unconnected session. The connection, once established, is
// closed when the given context is canceled or Close is called.
func New(c context.T, url string, opts ...Option) *Session {
	ctx, cancel := context.Cancel(c)
	s := &Session{
		URL:                     url,
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		subscriptions:           xsync.NewMapOf[*Subscription](),
		okCallbacks:             xsync.NewMapOf[func(bool, string)](),
		writeQueue:              make(chan writeRequest),
		dialer:                  defaultDialer,
	}

	for _, opt := range opts {
		switch o := opt.(type) {
		case WithNoticeHandler:
			s.notices = make(chan string)
			go func() {
				for n := range s.notices {
					o(n)
				}
			}()
		case WithDialer:
			s.dialer = Dialer(o)
		}
	}

	return s
}

// Connect establishes the session connection. Returns a session connected to
// url; once connected, cancelling c has no effect, call Close instead.
func Connect(c context.T, url string, opts ...Option) (*Session, error) {
	s := New(context.Bg(), url, opts...)
	err := s.Connect(c)
	return s, err
}

func (s *Session) String() string { return s.URL }

// State reports the session lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsConnected returns true if the connection to this relay seems to be
// active.
func (s *Session) IsConnected() bool {
	return s.connectionContext.Err() == nil && s.State() >= Connected
}

// Connect tries to establish a websocket connection to s.URL. If the context
// expires before the connection is complete, an error is returned.
func (s *Session) Connect(c context.T) error {
	if s.connectionContext == nil || s.subscriptions == nil {
		return fmt.Errorf("session must be initialized with a call to New()")
	}

	if s.URL == "" {
		return fmt.Errorf("invalid relay URL '%s'", s.URL)
	}

	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}

	s.state.Store(int32(Connecting))
	conn, err := s.dialer(c, s.URL, s.RequestHeader)
	if err != nil {
		s.state.Store(int32(Disconnected))
		return fmt.Errorf("error opening websocket to '%s': %w", s.URL, err)
	}
	s.Connection = conn
	s.state.Store(int32(Connected))

	// ping every 29 seconds
	ticker := time.NewTicker(29 * time.Second)

	go func() {
		<-s.connectionContext.Done()
		s.state.Store(int32(Disconnected))
		if s.notices != nil {
			close(s.notices)
		}
		ticker.Stop()
		s.subscriptions.Range(func(_ string, sub *Subscription) bool {
			go sub.Unsub()
			return true
		})
	}()

	// all writes are funneled through here so we don't do mutex spaghetti
	go func() {
		for {
			select {
			case <-ticker.C:
				if p, ok := s.Connection.(interface{ Ping() error }); ok {
					if err := p.Ping(); err != nil {
						log.E.F("{%s} error writing ping: %v; closing websocket",
							s.URL, err)
						s.Close()
						return
					}
				}
			case wr := <-s.writeQueue:
				if err := s.Connection.WriteMessage(wr.msg); err != nil {
					wr.answer <- err
				}
				close(wr.answer)
			case <-s.connectionContext.Done():
				return
			}
		}
	}()

	// general message reader loop
	go func() {
		buf := new(bytes.Buffer)
		for {
			buf.Reset()
			if err := conn.ReadMessage(s.connectionContext, buf); err != nil {
				s.ConnectionError = err
				s.Close()
				break
			}

			message := buf.Bytes()
			log.T.F("{%s} %v", s.URL, string(message))
			env := envelopes.ParseMessage(message)
			if env == nil {
				continue
			}
			s.handleEnvelope(env)
		}
	}()

	return nil
}

func (s *Session) handleEnvelope(env envelopes.E) {
	switch env := env.(type) {
	case *envelopes.Notice:
		if s.notices != nil {
			s.notices <- string(*env)
		} else {
			log.I.F("NOTICE from %s: '%s'", s.URL, string(*env))
		}
	case *envelopes.Event:
		if env.SubscriptionID == nil {
			return
		}
		sub, ok := s.subscriptions.Load(*env.SubscriptionID)
		if !ok {
			log.D.F("{%s} no subscription with id '%s'", s.URL,
				*env.SubscriptionID)
			return
		}
		// ignore events outside the subscription's filters
		if !matchAny(sub.Filters, env.Event) {
			log.D.F("{%s} filter does not match: %v ~ %v", s.URL,
				sub.Filters, env.Event)
			return
		}
		// invalid ids and signatures never reach the caller
		if !env.Event.Verify() {
			log.D.F("{%s} bad signature on %s", s.URL, env.Event.ID)
			return
		}
		sub.dispatchEvent(env.Event)
	case *envelopes.EOSE:
		if sub, ok := s.subscriptions.Load(string(*env)); ok {
			sub.dispatchEose()
		}
	case *envelopes.Closed:
		if sub, ok := s.subscriptions.Load(env.SubscriptionID); ok {
			sub.dispatchClosed(env.Reason)
		}
	case *envelopes.OK:
		if okCallback, exist := s.okCallbacks.Load(env.EventID); exist {
			okCallback(env.OK, env.Reason)
		} else {
			log.D.F("{%s} got an unexpected OK message for event %s", s.URL,
				env.EventID)
		}
	}
}

func matchAny(ff []filter.T, ev *event.T) bool {
	for i := range ff {
		if ff[i].Matches(ev) {
			return true
		}
	}
	return len(ff) == 0
}

// Write queues a message to be sent to the relay.
func (s *Session) Write(msg []byte) <-chan error {
	ch := make(chan error)
	select {
	case s.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-s.connectionContext.Done():
		go func() { ch <- fmt.Errorf("connection closed") }()
	}
	return ch
}

// Publish sends an EVENT command to the relay and waits for an OK response.
// The event must already be signed.
func (s *Session) Publish(c context.T, ev *event.T) error {
	if ev == nil || ev.Sig == "" {
		return ErrUnsignedEvent
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	var reason error
	var cancel context.F

	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	} else {
		// otherwise make the context cancellable so we can stop waiting upon
		// receiving an OK
		c, cancel = context.Cancel(c)
		defer cancel()
	}

	gotOk := false
	s.okCallbacks.Store(ev.ID, func(ok bool, msg string) {
		gotOk = true
		if !ok {
			reason = fmt.Errorf("msg: %s", msg)
		}
		cancel()
	})
	defer s.okCallbacks.Delete(ev.ID)

	envb, _ := (&envelopes.Event{Event: ev}).MarshalJSON()
	log.D.F("{%s} sending %v", s.URL, string(envb))
	if err := <-s.Write(envb); err != nil {
		return err
	}

	for {
		select {
		case <-c.Done():
			if gotOk {
				return reason
			}
			return c.Err()
		case <-s.connectionContext.Done():
			return reason
		}
	}
}

// Subscribe sends a REQ command to the relay. The previous subscription, if
// any, is closed first; events are returned through sub.Events.
func (s *Session) Subscribe(c context.T, ff []filter.T) (*Subscription, error) {
	if s.Connection == nil {
		return nil, ErrNotConnected
	}

	s.subMutex.Lock()
	if s.current != nil {
		s.current.Unsub()
		s.current = nil
	}

	counter := subscriptionIDCounter.Add(1)
	ctx, cancel := context.Cancel(c)
	sub := &Subscription{
		label:             fmt.Sprintf("%x", frand.Bytes(4)),
		counter:           int(counter),
		session:           s,
		Filters:           ff,
		Events:            make(chan *event.T),
		EndOfStoredEvents: make(chan struct{}, 1),
		ClosedReason:      make(chan string, 1),
		Context:           ctx,
		Cancel:            cancel,
	}

	s.subscriptions.Store(sub.GetID(), sub)
	s.current = sub
	s.subMutex.Unlock()

	go sub.start()

	if err := sub.Fire(); err != nil {
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", ff,
			s.URL, err)
	}
	s.state.Store(int32(Subscribed))

	return sub, nil
}

// Close terminates the session connection.
func (s *Session) Close() error {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()

	if s.connectionContextCancel == nil {
		return fmt.Errorf("relay not connected")
	}

	s.connectionContextCancel()
	s.connectionContextCancel = nil
	s.state.Store(int32(Disconnected))
	if s.Connection == nil {
		return nil
	}
	return s.Connection.Close()
}
