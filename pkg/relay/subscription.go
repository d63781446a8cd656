package relay

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/piggypost/piggypost/pkg/context"
	"github.com/piggypost/piggypost/pkg/envelopes"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"
)

// Subscription is one live REQ on a session. Events matching the filters are
// emitted on the Events channel in the order the relay sent them.
type Subscription struct {
	label   string
	counter int

	session *Session
	Filters []filter.T

	// Events emits every verified event of the subscription; closed when the
	// subscription ends.
	Events chan *event.T
	mu     sync.Mutex

	// EndOfStoredEvents gets a signal when the relay reports that replay of
	// stored events is complete.
	EndOfStoredEvents chan struct{}

	// ClosedReason emits the reason when the relay ends the subscription on
	// its own initiative.
	ClosedReason chan string

	// Context will be done when the subscription ends.
	Context context.T
	Cancel  context.F

	live   atomic.Bool
	eosed  atomic.Bool
	closed atomic.Bool
}

// GetID returns the wire subscription id, a concatenation of a random label
// and a serial number.
func (sub *Subscription) GetID() string {
	return sub.label + ":" + strconv.Itoa(sub.counter)
}

func (sub *Subscription) start() {
	<-sub.Context.Done()
	sub.Unsub()

	// so we don't close the Events channel while a dispatch is sending to it
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

// dispatchEvent delivers synchronously so relay order is preserved.
func (sub *Subscription) dispatchEvent(ev *event.T) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.live.Load() {
		return
	}
	select {
	case sub.Events <- ev:
	case <-sub.Context.Done():
	}
}

func (sub *Subscription) dispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		go func() {
			select {
			case sub.EndOfStoredEvents <- struct{}{}:
			case <-sub.Context.Done():
			}
		}()
	}
}

func (sub *Subscription) dispatchClosed(reason string) {
	if sub.closed.CompareAndSwap(false, true) {
		go func() {
			sub.ClosedReason <- reason
		}()
	}
}

// Unsub ends the subscription, sending CLOSE to the relay if it is still
// live, and closes the Events channel.
func (sub *Subscription) Unsub() {
	sub.Cancel()

	if sub.live.CompareAndSwap(true, false) {
		sub.Close()
	}

	sub.session.subscriptions.Delete(sub.GetID())
}

// Close just sends a CLOSE message. You probably want Unsub instead.
func (sub *Subscription) Close() {
	if sub.session.IsConnected() {
		closeMsg := envelopes.Close(sub.GetID())
		closeb, _ := closeMsg.MarshalJSON()
		log.D.F("{%s} sending %v", sub.session.URL, string(closeb))
		<-sub.session.Write(closeb)
	}
}

// Fire sends the REQ command to the relay.
func (sub *Subscription) Fire() error {
	reqb, _ := (&envelopes.Req{
		SubscriptionID: sub.GetID(),
		Filters:        sub.Filters,
	}).MarshalJSON()
	log.D.F("{%s} sending %v", sub.session.URL, string(reqb))

	sub.live.Store(true)
	if err := <-sub.session.Write(reqb); err != nil {
		sub.Cancel()
		return fmt.Errorf("failed to write: %w", err)
	}

	return nil
}
