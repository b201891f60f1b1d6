package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the hub.
const (
	EventInbound    = "inbound"    // message from the page
	EventOutbound   = "outbound"   // script or event sent to the page
	EventNavigation = "navigation" // policy decision
	EventLifecycle  = "lifecycle"  // surface attach/detach, content load
)

// Event is one entry of the bridge traffic stream.
type Event struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Type   string    `json:"type,omitempty"`
	Detail any       `json:"detail,omitempty"`
}

// Hub fans bridge traffic out to debugging subscribers. Slow subscribers
// lose events rather than stall the bridge.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

func (h *Hub) Subscribe(buffer int) (id string, events <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id = uuid.NewString()
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(kind, typ string, detail any) {
	if h == nil {
		return
	}
	ev := Event{ID: uuid.NewString(), Time: time.Now(), Kind: kind, Type: typ, Detail: detail}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
