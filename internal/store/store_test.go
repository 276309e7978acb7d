package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/internal/session"
)

// testClient is one user's fully wired core sharing a memory backend
// with the other test clients, the way two browser sessions share one
// backend.
type testClient struct {
	user          *models.User
	sess          *session.Session
	relations     *RelationStore
	conversations *ConversationIndex
	messages      *MessageStream
}

func seedUser(t *testing.T, mem *backend.Memory, username string) *models.User {
	t.Helper()
	raw, err := mem.Create(context.Background(), models.CollectionUsers, map[string]any{
		"username": username,
		"name":     username,
		"password": "secret123",
	})
	require.NoError(t, err)

	var user models.User
	require.NoError(t, json.Unmarshal(raw, &user))
	return &user
}

func newTestClient(t *testing.T, mem *backend.Memory, username string) *testClient {
	t.Helper()
	user := seedUser(t, mem, username)

	sess := session.New()
	sess.SetIdentity(user, "token-"+user.ID)

	relations := NewRelationStore(mem, sess)
	conversations := NewConversationIndex(mem, sess, relations)
	messages := NewMessageStream(mem, sess, relations, conversations)

	ctx := context.Background()
	require.NoError(t, relations.Start(ctx))
	t.Cleanup(relations.Stop)
	require.NoError(t, conversations.Start(ctx))
	t.Cleanup(conversations.Stop)
	t.Cleanup(messages.Close)

	return &testClient{
		user:          user,
		sess:          sess,
		relations:     relations,
		conversations: conversations,
		messages:      messages,
	}
}

// befriend runs the full request/accept handshake between two clients.
func befriend(t *testing.T, a, b *testClient) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.relations.SendFriendRequest(ctx, b.user.ID))
	require.NoError(t, b.relations.AcceptFriendRequest(ctx, a.user.ID))
}

// storedRelations lists every relation record on the backend.
func storedRelations(t *testing.T, mem *backend.Memory) []models.Relation {
	t.Helper()
	res, err := mem.List(context.Background(), models.CollectionRelations, backend.Query{PerPage: 100})
	require.NoError(t, err)
	relations, err := backend.DecodeItems[models.Relation](res.Items)
	require.NoError(t, err)
	return relations
}

// recordingBackend wraps a backend and logs the sequence of list and
// subscribe calls so tests can assert startup ordering.
type recordingBackend struct {
	backend.Client

	mu    sync.Mutex
	calls []string
}

func (rb *recordingBackend) List(ctx context.Context, collection string, q backend.Query) (*backend.ListResult, error) {
	rb.log("list " + collection)
	return rb.Client.List(ctx, collection, q)
}

func (rb *recordingBackend) Subscribe(collection string, handler func(backend.Event)) (backend.UnsubscribeFunc, error) {
	rb.log("subscribe " + collection)
	return rb.Client.Subscribe(collection, handler)
}

func (rb *recordingBackend) log(call string) {
	rb.mu.Lock()
	rb.calls = append(rb.calls, call)
	rb.mu.Unlock()
}

func (rb *recordingBackend) recorded() []string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return append([]string(nil), rb.calls...)
}

func storedMessageCount(t *testing.T, mem *backend.Memory) int {
	t.Helper()
	res, err := mem.List(context.Background(), models.CollectionMessages, backend.Query{PerPage: 100})
	require.NoError(t, err)
	return res.TotalItems
}
