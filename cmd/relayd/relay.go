package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/piggypost/piggypost/pkg/envelopes"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"

	"github.com/fasthttp/websocket"
	"github.com/fiatjaf/generic-ristretto/z"
	"github.com/rs/cors"
)

const (
	maxMessageSize = 512000
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

const maxLocks = 50

var namedMutexPool = make([]sync.Mutex, maxLocks)

// namedLock serializes ingestion per event id so a racing duplicate cannot
// be stored twice.
func namedLock(name string) (unlock func()) {
	idx := z.MemHashString(name) % maxLocks
	namedMutexPool[idx].Lock()
	return namedMutexPool[idx].Unlock
}

type relayInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Software    string `json:"software"`
	Version     string `json:"version"`
}

// wsSession serializes writes to one client connection.
type wsSession struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func (ws *wsSession) write(data []byte) error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *wsSession) ping() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	return ws.conn.WriteMessage(websocket.PingMessage, nil)
}

// Relay is the in-memory relay: a bounded window of accepted events and the
// live subscriptions to fan incoming events out to.
type Relay struct {
	upgrader websocket.Upgrader

	storeMx sync.Mutex
	events  []*event.T
	byID    map[string]struct{}
	max     int

	listenersMx sync.Mutex
	listeners   map[*wsSession]map[string][]filter.T
}

func NewRelay(maxEvents int) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		byID:      make(map[string]struct{}),
		max:       maxEvents,
		listeners: make(map[*wsSession]map[string][]filter.T),
	}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		rl.handleWebsocket(w, r)
	} else if strings.Contains(r.Header.Get("Accept"), "application/nostr+json") {
		cors.AllowAll().Handler(http.HandlerFunc(rl.handleInfo)).ServeHTTP(w, r)
	} else {
		http.Error(w, "websocket clients only", http.StatusUpgradeRequired)
	}
}

func (rl *Relay) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/nostr+json")
	json.NewEncoder(w).Encode(relayInfo{
		Name:        "relayd",
		Description: "in-memory development relay",
		Software:    "https://github.com/piggypost/piggypost",
		Version:     "0.1.0",
	})
}

func (rl *Relay) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.E.F("failed to upgrade websocket: %v", err)
		return
	}

	ws := &wsSession{conn: conn}
	ticker := time.NewTicker(pingPeriod)

	kill := func() {
		ticker.Stop()
		rl.removeSession(ws)
		conn.Close()
	}

	go func() {
		defer kill()

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived,
					websocket.CloseAbnormalClosure,
				) {
					log.D.F("unexpected close error from %s: %v",
						r.RemoteAddr, err)
				}
				return
			}
			env := envelopes.ParseMessage(message)
			if env == nil {
				log.D.F("ignoring unreadable message\n%s", string(message))
				continue
			}

			switch env := env.(type) {
			case *envelopes.Event:
				rl.handleEvent(ws, env.Event)
			case *envelopes.Req:
				rl.handleReq(ws, env)
			case *envelopes.Close:
				rl.removeListener(ws, string(*env))
			}
		}
	}()

	go func() {
		for range ticker.C {
			if err := ws.ping(); err != nil {
				return
			}
		}
	}()
}

func (rl *Relay) sendOK(ws *wsSession, id string, ok bool, reason string) {
	b, _ := (&envelopes.OK{EventID: id, OK: ok, Reason: reason}).MarshalJSON()
	ws.write(b)
}

func (rl *Relay) handleEvent(ws *wsSession, ev *event.T) {
	if ev == nil {
		return
	}
	if ev.GetID() != ev.ID {
		rl.sendOK(ws, ev.ID, false, "invalid: id is computed incorrectly")
		return
	}
	if ok, err := ev.CheckSignature(); err != nil {
		rl.sendOK(ws, ev.ID, false, "error: failed to verify signature")
		return
	} else if !ok {
		rl.sendOK(ws, ev.ID, false, "invalid: signature is invalid")
		return
	}

	unlock := namedLock(ev.ID)
	stored := rl.store(ev)
	unlock()

	if !stored {
		rl.sendOK(ws, ev.ID, true, "duplicate: already have this event")
		return
	}

	rl.sendOK(ws, ev.ID, true, "")
	rl.notifyListeners(ev)
}

// store appends the event to the window, evicting the oldest entries past
// the cap. Reports whether the event was new.
func (rl *Relay) store(ev *event.T) bool {
	rl.storeMx.Lock()
	defer rl.storeMx.Unlock()
	if _, have := rl.byID[ev.ID]; have {
		return false
	}
	rl.byID[ev.ID] = struct{}{}
	rl.events = append(rl.events, ev)
	for rl.max > 0 && len(rl.events) > rl.max {
		delete(rl.byID, rl.events[0].ID)
		rl.events = rl.events[1:]
	}
	return true
}

func (rl *Relay) handleReq(ws *wsSession, env *envelopes.Req) {
	// replay stored events before going live
	rl.storeMx.Lock()
	stored := make([]*event.T, len(rl.events))
	copy(stored, rl.events)
	rl.storeMx.Unlock()

	for _, ev := range stored {
		if !matches(env.Filters, ev) {
			continue
		}
		id := env.SubscriptionID
		b, _ := (&envelopes.Event{SubscriptionID: &id, Event: ev}).MarshalJSON()
		ws.write(b)
	}

	b, _ := envelopes.EOSE(env.SubscriptionID).MarshalJSON()
	ws.write(b)

	rl.listenersMx.Lock()
	subs, ok := rl.listeners[ws]
	if !ok {
		subs = make(map[string][]filter.T)
		rl.listeners[ws] = subs
	}
	subs[env.SubscriptionID] = env.Filters
	rl.listenersMx.Unlock()
}

func (rl *Relay) notifyListeners(ev *event.T) {
	rl.listenersMx.Lock()
	defer rl.listenersMx.Unlock()
	for ws, subs := range rl.listeners {
		for id, ff := range subs {
			if !matches(ff, ev) {
				continue
			}
			id := id
			b, _ := (&envelopes.Event{SubscriptionID: &id, Event: ev}).MarshalJSON()
			ws.write(b)
		}
	}
}

func (rl *Relay) removeListener(ws *wsSession, id string) {
	rl.listenersMx.Lock()
	defer rl.listenersMx.Unlock()
	if subs, ok := rl.listeners[ws]; ok {
		delete(subs, id)
	}
}

func (rl *Relay) removeSession(ws *wsSession) {
	rl.listenersMx.Lock()
	defer rl.listenersMx.Unlock()
	delete(rl.listeners, ws)
}

func matches(ff []filter.T, ev *event.T) bool {
	for i := range ff {
		if ff[i].Matches(ev) {
			return true
		}
	}
	return false
}
