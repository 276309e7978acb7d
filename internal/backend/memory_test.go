package backend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneeroz/pocket-chat/internal/models"
)

func memCreate(t *testing.T, m *Memory, collection string, fields map[string]any) string {
	t.Helper()
	raw, err := m.Create(context.Background(), collection, fields)
	require.NoError(t, err)
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec.ID
}

func TestMemoryListFiltering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	memCreate(t, m, models.CollectionRelations, map[string]any{"from_user": "a", "to_user": "b", "kind": "friend"})
	memCreate(t, m, models.CollectionRelations, map[string]any{"from_user": "b", "to_user": "a", "kind": "friend"})
	memCreate(t, m, models.CollectionRelations, map[string]any{"from_user": "b", "to_user": "c", "kind": "pending_sent"})

	res, err := m.List(ctx, models.CollectionRelations, Query{
		Filter: Filter{
			Any: []Cond{
				{Field: "from_user", Op: OpEqual, Value: "a"},
				{Field: "to_user", Op: OpEqual, Value: "a"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalItems)

	res, err = m.List(ctx, models.CollectionRelations, Query{
		Filter: Filter{
			All: []Cond{
				{Field: "from_user", Op: OpEqual, Value: "b"},
				{Field: "kind", Op: OpEqual, Value: "friend"},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalItems)

	rels, err := DecodeItems[models.Relation](res.Items)
	require.NoError(t, err)
	assert.Equal(t, "a", rels[0].To)
}

func TestMemoryListContains(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	memCreate(t, m, models.CollectionConversations, map[string]any{"participants": []string{"a", "b"}})
	memCreate(t, m, models.CollectionConversations, map[string]any{"participants": []string{"b", "c"}})

	res, err := m.List(ctx, models.CollectionConversations, Query{
		Filter: Filter{
			All: []Cond{{Field: "participants", Op: OpContains, Value: "a"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalItems)
}

func TestMemoryListSortAndPaginate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		memCreate(t, m, models.CollectionMessages, map[string]any{"text": text, "conversation": "c1"})
	}

	res, err := m.List(ctx, models.CollectionMessages, Query{Sort: "-created", Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalItems)
	require.Len(t, res.Items, 2)

	msgs, err := DecodeItems[models.Message](res.Items)
	require.NoError(t, err)
	assert.Equal(t, "five", msgs[0].Text)
	assert.Equal(t, "four", msgs[1].Text)

	// Last page is short; pages past the end are empty, not an error.
	res, err = m.List(ctx, models.CollectionMessages, Query{Sort: "created", Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	res, err = m.List(ctx, models.CollectionMessages, Query{Sort: "created", Page: 9, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestMemoryExpand(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	userID := memCreate(t, m, models.CollectionUsers, map[string]any{"username": "alice"})
	relID := memCreate(t, m, models.CollectionRelations, map[string]any{
		"from_user": userID, "to_user": "someone", "kind": "pending_sent",
	})

	raw, err := m.GetOne(ctx, models.CollectionRelations, relID, "from_user")
	require.NoError(t, err)

	var rel models.Relation
	require.NoError(t, json.Unmarshal(raw, &rel))
	require.NotNil(t, rel.Expand)
	require.NotNil(t, rel.Expand.FromUser)
	assert.Equal(t, "alice", rel.Expand.FromUser.Username)
	assert.Nil(t, rel.Expand.ToUser)
}

func TestMemorySubscriptionEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var events []Event
	unsub, err := m.Subscribe(models.CollectionMessages, func(ev Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	id := memCreate(t, m, models.CollectionMessages, map[string]any{"text": "hi", "conversation": "c1"})
	_, err = m.Update(ctx, models.CollectionMessages, id, map[string]any{"text": "hi!"})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, models.CollectionMessages, id))

	require.Len(t, events, 3)
	assert.Equal(t, "create", events[0].Action)
	assert.Equal(t, "update", events[1].Action)
	assert.Equal(t, "delete", events[2].Action)

	// The delete payload still carries the record.
	var deleted models.Message
	require.NoError(t, json.Unmarshal(events[2].Record, &deleted))
	assert.Equal(t, id, deleted.ID)

	unsub()
	memCreate(t, m, models.CollectionMessages, map[string]any{"text": "later", "conversation": "c1"})
	assert.Len(t, events, 3)
}

func TestMemoryTimestampsIncrease(t *testing.T) {
	m := NewMemory()

	var prev string
	for i := 0; i < 5; i++ {
		raw, err := m.Create(context.Background(), models.CollectionMessages, map[string]any{"text": "t"})
		require.NoError(t, err)
		var msg models.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Greater(t, msg.Created, prev)
		prev = msg.Created
	}
}
