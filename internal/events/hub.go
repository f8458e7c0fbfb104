package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultSubscriberBuffer is the number of events queued per subscriber
// before it is considered too slow and disconnected.
const DefaultSubscriberBuffer = 1024

const writeTimeout = 10 * time.Second

// Hub fans events out to subscribers. Emit never blocks: a subscriber whose
// queue is full is dropped and its channel closed, so observers either see
// every event in order or learn that they fell behind.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	bufSize int
	now     func() time.Time
}

// Subscription receives events on C until it is closed by the subscriber or
// evicted by the hub.
type Subscription struct {
	C <-chan Event

	hub     *Hub
	ch      chan Event
	evicted bool
	once    sync.Once
}

// NewHub creates a hub with the given per-subscriber queue size.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
		now:     time.Now,
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.bufSize)
	s := &Subscription{C: ch, hub: h, ch: ch}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	s.hub.remove(s)
	s.hub.mu.Unlock()
}

// Evicted reports whether the hub dropped this subscriber for falling behind.
// Only meaningful after C has been closed.
func (s *Subscription) Evicted() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.evicted
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// Emit implements Emitter.
func (h *Hub) Emit(event string, payload any) {
	ev := Event{Name: event, Payload: payload, Timestamp: h.now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.evicted = true
			h.remove(s)
			log.Printf("[events] subscriber fell behind (%d queued), disconnecting", h.bufSize)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.remove(s)
	}
}

// ServeWS upgrades the request to a websocket and streams every event as a
// JSON text message until the client goes away or falls behind.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[events] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	sub := h.Subscribe()
	defer sub.Close()

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	log.Printf("[events] subscriber connected from %s", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[events] subscriber %s disconnected", r.RemoteAddr)
			return
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Evicted() {
					conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				} else {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
				}
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				log.Printf("[events] write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
