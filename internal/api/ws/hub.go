package ws

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
)

// Event is one remote to host call observed by the API
type Event struct {
	Type         string            `json:"type"`
	Registration id.RegistrationID `json:"registration_id"`
	Method       string            `json:"method"`
	Args         []any             `json:"args"`
	Timestamp    int64             `json:"timestamp"`
}

// NewEvent stamps a call event
func NewEvent(regID id.RegistrationID, method string, args []any) Event {
	if args == nil {
		args = []any{}
	}
	return Event{
		Type:         "call",
		Registration: regID,
		Method:       method,
		Args:         args,
		Timestamp:    time.Now().UnixMilli(),
	}
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to the subscribers of each registration. Slow
// subscribers lose events rather than blocking the publisher.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[id.RegistrationID]map[*subscriber]struct{}
}

// NewHub creates a hub whose subscriptions buffer up to buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[id.RegistrationID]map[*subscriber]struct{}),
	}
}

// Subscribe returns the event stream of regID and a function ending the
// subscription. The stream is closed by either the function or Close.
func (h *Hub) Subscribe(regID id.RegistrationID) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[regID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[regID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.unsubscribe(regID, sub) })
	}
}

func (h *Hub) unsubscribe(regID id.RegistrationID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[regID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, regID)
	}
	close(sub.ch)
}

// Publish delivers e to every subscriber of its registration and reports
// how many accepted it.
func (h *Hub) Publish(e Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.subs[e.Registration] {
		select {
		case sub.ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Close ends every subscription of regID
func (h *Hub) Close(regID id.RegistrationID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[regID] {
		close(sub.ch)
	}
	delete(h.subs, regID)
}

// Subscribers counts the live subscriptions of regID
func (h *Hub) Subscribers(regID id.RegistrationID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[regID])
}
