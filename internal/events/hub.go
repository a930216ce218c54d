// Package events fans dispatch progress out to in-process observers (the TUI, the
// API events endpoint). Publishing never blocks on a slow subscriber.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the dispatcher.
const (
	DispatchStarted  = "dispatch.started"
	AttemptCompleted = "attempt.completed"
	ChannelFinished  = "channel.finished"
	DispatchFinished = "dispatch.finished"
)

type Event struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	DispatchID string          `json:"dispatch_id"`
	At         time.Time       `json:"at"`
	Data       json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Hub is an in-memory pub/sub with a small ring buffer for late readers.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring   []Event
	start  int
	size   int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event for dispatchID. A nil hub is a no-op so callers can leave
// progress reporting unconfigured.
func (h *Hub) Publish(eventType, dispatchID string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	// IDs are assigned under the lock so the ring and every subscriber see them in
	// increasing order.
	h.mu.Lock()
	h.nextID++
	ev := Event{
		ID:         h.nextID,
		Type:       eventType,
		DispatchID: dispatchID,
		At:         time.Now().UTC(),
		Data:       payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a buffered channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 128
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest-first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// ForDispatch returns the events in evs that belong to dispatchID. An empty
// dispatchID keeps everything.
func ForDispatch(evs []Event, dispatchID string) []Event {
	if dispatchID == "" {
		return evs
	}
	out := make([]Event, 0, len(evs))
	for _, ev := range evs {
		if ev.DispatchID == dispatchID {
			out = append(out, ev)
		}
	}
	return out
}
