package relay

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/piggypost/piggypost/pkg/context"
	"github.com/piggypost/piggypost/pkg/envelopes"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"
	"github.com/piggypost/piggypost/pkg/keys"
	"github.com/piggypost/piggypost/pkg/kind"
	"github.com/piggypost/piggypost/pkg/tags"

	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn. Frames pushed into incoming are returned
// from ReadMessage; everything written is recorded, and acceptEvents makes
// it acknowledge EVENT frames like a relay would.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	incoming chan []byte

	acceptEvents bool
	rejectReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 64)}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	f.mu.Unlock()

	if f.acceptEvents {
		if env, ok := envelopes.ParseMessage(data).(*envelopes.Event); ok {
			b, _ := (&envelopes.OK{
				EventID: env.Event.ID,
				OK:      f.rejectReason == "",
				Reason:  f.rejectReason,
			}).MarshalJSON()
			f.incoming <- b
		}
	}
	return nil
}

func (f *fakeConn) ReadMessage(c context.T, buf io.Writer) error {
	select {
	case msg, ok := <-f.incoming:
		if !ok {
			return errors.New("connection closed")
		}
		_, err := buf.Write(msg)
		return err
	case <-c.Done():
		return c.Err()
	}
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) writtenFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, b := range f.written {
		out[i] = string(b)
	}
	return out
}

func connectedSession(t *testing.T, fc *fakeConn) *Session {
	t.Helper()
	s := New(context.Bg(), "ws://fake.test",
		WithDialer(func(c context.T, url string, h http.Header) (Conn, error) {
			return fc, nil
		}))
	require.NoError(t, s.Connect(context.Bg()))
	t.Cleanup(func() { s.Close() })
	return s
}

func signedEvent(t *testing.T, sk, content string) *event.T {
	t.Helper()
	ev, err := event.Build(kind.TextNote, content,
		tags.T{{"t", "piggypost"}}, sk)
	require.NoError(t, err)
	return ev
}

func eventFrame(t *testing.T, subID string, ev *event.T) []byte {
	t.Helper()
	b, err := (&envelopes.Event{SubscriptionID: &subID, Event: ev}).MarshalJSON()
	require.NoError(t, err)
	return b
}

func TestPublishRefusesUnsignedEvent(t *testing.T) {
	fc := newFakeConn()
	s := connectedSession(t, fc)

	err := s.Publish(context.Bg(), &event.T{Content: "unsigned"})
	require.ErrorIs(t, err, ErrUnsignedEvent)
	require.Empty(t, fc.writtenFrames())
}

func TestPublishRequiresConnection(t *testing.T) {
	s := New(context.Bg(), "ws://fake.test")
	ev := signedEvent(t, keys.GeneratePrivateKey(), "hello")
	require.ErrorIs(t, s.Publish(context.Bg(), ev), ErrNotConnected)
}

func TestPublishWaitsForAcknowledgement(t *testing.T) {
	fc := newFakeConn()
	fc.acceptEvents = true
	s := connectedSession(t, fc)

	ev := signedEvent(t, keys.GeneratePrivateKey(), "hello")
	require.NoError(t, s.Publish(context.Bg(), ev))

	frames := fc.writtenFrames()
	require.Len(t, frames, 1)
	require.True(t, strings.HasPrefix(frames[0], `["EVENT",`))
}

func TestPublishSurfacesRejection(t *testing.T) {
	fc := newFakeConn()
	fc.acceptEvents = true
	fc.rejectReason = "blocked: the pig dislikes you"
	s := connectedSession(t, fc)

	ev := signedEvent(t, keys.GeneratePrivateKey(), "hello")
	err := s.Publish(context.Bg(), ev)
	require.Error(t, err)
	require.Contains(t, err.Error(), "the pig dislikes you")
}

func TestSubscribeDispatchesVerifiedEventsInOrder(t *testing.T) {
	fc := newFakeConn()
	s := connectedSession(t, fc)

	sub, err := s.Subscribe(context.Bg(), []filter.T{{}})
	require.NoError(t, err)
	id := sub.GetID()

	sk := keys.GeneratePrivateKey()
	first := signedEvent(t, sk, "first")
	second := signedEvent(t, sk, "second")

	forged := signedEvent(t, sk, "original")
	forged.Content = "tampered"

	fc.incoming <- eventFrame(t, id, first)
	fc.incoming <- eventFrame(t, id, forged)
	fc.incoming <- eventFrame(t, id, second)
	eose, _ := envelopes.EOSE(id).MarshalJSON()
	fc.incoming <- eose

	got := <-sub.Events
	require.Equal(t, "first", got.Content)
	got = <-sub.Events
	require.Equal(t, "second", got.Content)

	select {
	case <-sub.EndOfStoredEvents:
	case <-time.After(time.Second):
		t.Fatal("no end of stored events signal")
	}
}

func TestSubscribeIgnoresEventsOutsideFilters(t *testing.T) {
	fc := newFakeConn()
	s := connectedSession(t, fc)

	sub, err := s.Subscribe(context.Bg(), []filter.T{
		{Kinds: []kind.T{kind.EncryptedDirectMessage}},
	})
	require.NoError(t, err)
	id := sub.GetID()

	note := signedEvent(t, keys.GeneratePrivateKey(), "a public note")
	fc.incoming <- eventFrame(t, id, note)
	eose, _ := envelopes.EOSE(id).MarshalJSON()
	fc.incoming <- eose

	select {
	case ev := <-sub.Events:
		t.Fatalf("event should have been filtered out: %v", ev)
	case <-sub.EndOfStoredEvents:
	case <-time.After(time.Second):
		t.Fatal("no end of stored events signal")
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	fc := newFakeConn()
	s := connectedSession(t, fc)

	first, err := s.Subscribe(context.Bg(), []filter.T{{}})
	require.NoError(t, err)
	firstID := first.GetID()

	second, err := s.Subscribe(context.Bg(), []filter.T{{}})
	require.NoError(t, err)
	require.NotEqual(t, firstID, second.GetID())

	var closeSent bool
	for _, frame := range fc.writtenFrames() {
		if strings.HasPrefix(frame, `["CLOSE",`) &&
			strings.Contains(frame, firstID) {
			closeSent = true
		}
	}
	require.True(t, closeSent, "no CLOSE was sent for the replaced subscription")

	// the old subscription's channel ends
	select {
	case _, open := <-first.Events:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("previous subscription never ended")
	}
}

func TestClosedSubscriptionReportsReason(t *testing.T) {
	fc := newFakeConn()
	s := connectedSession(t, fc)

	sub, err := s.Subscribe(context.Bg(), []filter.T{{}})
	require.NoError(t, err)

	b, _ := (&envelopes.Closed{
		SubscriptionID: sub.GetID(),
		Reason:         "error: shutting down",
	}).MarshalJSON()
	fc.incoming <- b

	select {
	case reason := <-sub.ClosedReason:
		require.Equal(t, "error: shutting down", reason)
	case <-time.After(time.Second):
		t.Fatal("no closed reason delivered")
	}
}

func TestSessionStates(t *testing.T) {
	fc := newFakeConn()
	s := New(context.Bg(), "ws://fake.test",
		WithDialer(func(c context.T, url string, h http.Header) (Conn, error) {
			return fc, nil
		}))
	require.Equal(t, Disconnected, s.State())

	require.NoError(t, s.Connect(context.Bg()))
	require.Equal(t, Connected, s.State())

	_, err := s.Subscribe(context.Bg(), []filter.T{{}})
	require.NoError(t, err)
	require.Equal(t, Subscribed, s.State())

	require.NoError(t, s.Close())
	require.Equal(t, Disconnected, s.State())
	require.False(t, s.IsConnected())
}
