package hub

import (
	"encoding/json"
	"sync"

	"github.com/moneeroz/pocket-chat/pkg/logger"
)

// Event is a real-time record event for one collection.
type Event struct {
	Action string          `json:"action"` // create | update | delete
	Record json.RawMessage `json:"record"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Client is a single subscriber connection: a channel the consumer
// (an SSE handler, or a dispatch goroutine) drains.
type Client chan []byte

// Hub fans events out to subscribers grouped by topic. Topics are
// collection names on both sides of the wire: the chatserver broadcasts
// committed writes, the chat client dispatches received events to the
// store that owns the collection.
type Hub struct {
	topics map[string]map[Client]bool
	mu     sync.RWMutex
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		topics: make(map[string]map[Client]bool),
	}
}

// Subscribe adds a client to a topic.
func (h *Hub) Subscribe(topic string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[Client]bool)
	}
	h.topics[topic][client] = true
}

// Unsubscribe removes a client from a topic and closes its channel to
// signal the consumer to stop.
func (h *Hub) Unsubscribe(topic string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.topics[topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client)
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Broadcast sends an event to all clients subscribed to a topic.
func (h *Hub) Broadcast(topic string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.topics[topic]; ok {
		messageBytes, err := json.Marshal(event)
		if err != nil {
			logger.Error("failed to marshal event", "topic", topic, "error", err)
			return
		}

		for client := range clients {
			// Non-blocking send so one slow consumer cannot stall the hub.
			select {
			case client <- messageBytes:
			default:
			}
		}
	}
}

// BroadcastRaw sends already-marshaled event bytes to a topic.
func (h *Hub) BroadcastRaw(topic string, messageBytes []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		select {
		case client <- messageBytes:
		default:
		}
	}
}
