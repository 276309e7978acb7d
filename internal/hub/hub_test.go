package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesTopicSubscribersOnly(t *testing.T) {
	h := New()

	messages := make(Client, 4)
	relations := make(Client, 4)
	h.Subscribe("messages", messages)
	h.Subscribe("relations", relations)

	h.Broadcast("messages", Event{Action: ActionCreate, Record: json.RawMessage(`{"id":"m1"}`)})

	require.Len(t, messages, 1)
	assert.Empty(t, relations)

	var ev Event
	require.NoError(t, json.Unmarshal(<-messages, &ev))
	assert.Equal(t, ActionCreate, ev.Action)
}

func TestUnsubscribeClosesClient(t *testing.T) {
	h := New()

	c := make(Client, 1)
	h.Subscribe("messages", c)
	h.Unsubscribe("messages", c)

	_, open := <-c
	assert.False(t, open)

	// Doubling up or unsubscribing an unknown client is harmless.
	h.Unsubscribe("messages", c)
	h.Unsubscribe("nope", make(Client))
}

func TestBroadcastSkipsFullClient(t *testing.T) {
	h := New()

	full := make(Client, 1)
	full <- []byte("backlog")
	healthy := make(Client, 4)
	h.Subscribe("messages", full)
	h.Subscribe("messages", healthy)

	h.BroadcastRaw("messages", []byte(`{"action":"create"}`))

	// The stalled consumer lost the event, the healthy one got it.
	assert.Len(t, full, 1)
	assert.Len(t, healthy, 1)
}

func TestBroadcastToUnknownTopic(t *testing.T) {
	h := New()
	h.Broadcast("nobody", Event{Action: ActionDelete})
	h.BroadcastRaw("nobody", []byte("x"))
}
