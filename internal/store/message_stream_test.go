package store

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
)

// openConversation befriends the two clients, creates their
// conversation, and opens it on both message streams.
func openConversation(t *testing.T, a, b *testClient) *models.Conversation {
	t.Helper()
	ctx := context.Background()

	befriend(t, a, b)
	conv, err := a.conversations.GetOrCreate(ctx, b.user.ID)
	require.NoError(t, err)

	require.NoError(t, a.messages.Open(ctx, conv.ID, 50))
	require.NoError(t, b.messages.Open(ctx, conv.ID, 50))
	return conv
}

func TestSendDeliversToBothWindows(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	sent, err := alice.messages.Send(ctx, conv.ID, "hello bob")
	require.NoError(t, err)
	assert.Equal(t, alice.user.ID, sent.User)

	mine := alice.messages.Messages()
	require.Len(t, mine, 1)
	assert.Equal(t, "hello bob", mine[0].Text)

	// Bob's window got the same message through the push event, with the
	// author expanded by the refetch.
	theirs := bob.messages.Messages()
	require.Len(t, theirs, 1)
	assert.Equal(t, sent.ID, theirs[0].ID)
	require.NotNil(t, theirs[0].Expand)
	require.NotNil(t, theirs[0].Expand.User)
	assert.Equal(t, "alice", theirs[0].Expand.User.Username)
}

func TestSendBumpsConversationPreview(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	_, err := alice.messages.Send(ctx, conv.ID, "hello bob")
	require.NoError(t, err)

	convs := alice.conversations.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "hello bob", convs[0].LastMessage)

	// Long texts are truncated in the preview, not in the message.
	long := strings.Repeat("x", 300)
	_, err = alice.messages.Send(ctx, conv.ID, long)
	require.NoError(t, err)

	convs = alice.conversations.Conversations()
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].LastMessage, previewLimit)
}

func TestSendRejectsEmptyText(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := alice.messages.Send(ctx, conv.ID, text)
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
	}
	assert.Zero(t, storedMessageCount(t, mem))
}

func TestSendFailsWhenBlockedByRecipient(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	require.NoError(t, bob.relations.BlockUser(ctx, alice.user.ID))

	_, err := alice.messages.Send(ctx, conv.ID, "hello?")
	assert.True(t, apperr.Is(err, apperr.CodeBlocked))
	assert.Zero(t, storedMessageCount(t, mem))
}

func TestSendFailsWhenBlockingRecipient(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	require.NoError(t, alice.relations.BlockUser(ctx, bob.user.ID))

	_, err := alice.messages.Send(ctx, conv.ID, "hello?")
	assert.True(t, apperr.Is(err, apperr.CodeBlocked))
	assert.Zero(t, storedMessageCount(t, mem))
}

func TestSendFileReportsProgress(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	body := strings.Repeat("a", 4096)
	var percents []int
	sent, err := alice.messages.SendFile(ctx, conv.ID, &backend.FileUpload{
		Name:   "photo.png",
		Size:   int64(len(body)),
		Reader: strings.NewReader(body),
		OnProgress: func(p int) {
			percents = append(percents, p)
		},
	}, models.FileImage)
	require.NoError(t, err)

	assert.Equal(t, models.FileImage, sent.FileKind)
	assert.Equal(t, "photo.png", sent.FileName)
	assert.Equal(t, int64(len(body)), sent.FileSize)
	assert.NotEmpty(t, sent.File)
	assert.False(t, sent.Empty())

	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}

	assert.NotEmpty(t, alice.messages.FileURL(sent, "100x100"))
}

func TestSendFileRejectsMissingUpload(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	_, err := alice.messages.SendFile(ctx, conv.ID, nil, models.FileImage)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = alice.messages.SendFile(ctx, conv.ID, &backend.FileUpload{Name: "x"}, models.FileImage)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestWindowIgnoresOtherConversations(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	carol := newTestClient(t, mem, "carol")
	ctx := context.Background()

	withBob := openConversation(t, alice, bob)
	befriend(t, alice, carol)
	withCarol, err := alice.conversations.GetOrCreate(ctx, carol.user.ID)
	require.NoError(t, err)

	_, err = alice.messages.Send(ctx, withBob.ID, "for bob")
	require.NoError(t, err)

	// Switching conversations drops the old window.
	require.NoError(t, alice.messages.Open(ctx, withCarol.ID, 50))
	assert.Equal(t, withCarol.ID, alice.messages.Active())
	assert.Empty(t, alice.messages.Messages())

	// A message in the old conversation does not leak into the new one.
	require.NoError(t, bob.messages.Open(ctx, withBob.ID, 50))
	_, err = bob.messages.Send(ctx, withBob.ID, "still for alice")
	require.NoError(t, err)
	assert.Empty(t, alice.messages.Messages())
}

func TestLoadDiscardsStalePage(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	_, err := alice.messages.Send(ctx, conv.ID, "hello")
	require.NoError(t, err)

	// A load response for a conversation that is no longer active is
	// thrown away instead of clobbering the window.
	alice.messages.Close()
	require.NoError(t, alice.messages.Load(ctx, conv.ID, 1, 50))
	assert.Empty(t, alice.messages.Messages())
}

func TestMessagesStayInCreationOrder(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)

	texts := []string{"one", "two", "three"}
	for i, text := range texts {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		_, err := sender.messages.Send(ctx, conv.ID, text)
		require.NoError(t, err)
	}

	for _, window := range [][]models.Message{alice.messages.Messages(), bob.messages.Messages()} {
		require.Len(t, window, len(texts))
		for i, msg := range window {
			assert.Equal(t, texts[i], msg.Text)
		}
	}
}

func TestMessageCreateEventReplayIsIdempotent(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	sent, err := alice.messages.Send(ctx, conv.ID, "hello")
	require.NoError(t, err)

	raw, err := mem.GetOne(ctx, models.CollectionMessages, sent.ID)
	require.NoError(t, err)

	bob.messages.OnMessageEvent(backend.Event{Action: "create", Record: raw})
	bob.messages.OnMessageEvent(backend.Event{Action: "create", Record: raw})
	assert.Len(t, bob.messages.Messages(), 1)
}

func TestUpdatePatchesBothWindows(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	sent, err := alice.messages.Send(ctx, conv.ID, "helo")
	require.NoError(t, err)

	require.NoError(t, alice.messages.Update(ctx, sent.ID, "hello"))

	for _, window := range [][]models.Message{alice.messages.Messages(), bob.messages.Messages()} {
		require.Len(t, window, 1)
		assert.Equal(t, "hello", window[0].Text)
	}

	err = alice.messages.Update(ctx, sent.ID, "  ")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestDeleteRemovesFromBothWindows(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	ctx := context.Background()

	conv := openConversation(t, alice, bob)
	sent, err := alice.messages.Send(ctx, conv.ID, "oops")
	require.NoError(t, err)

	require.NoError(t, alice.messages.Delete(ctx, sent.ID))
	assert.Empty(t, alice.messages.Messages())
	assert.Empty(t, bob.messages.Messages())
	assert.Zero(t, storedMessageCount(t, mem))
}

func TestOpenSubscribesBeforeFirstPage(t *testing.T) {
	mem := backend.NewMemory()
	alice := newTestClient(t, mem, "alice")
	bob := newTestClient(t, mem, "bob")
	conv := openConversation(t, alice, bob)

	rec := &recordingBackend{Client: mem}
	ms := NewMessageStream(rec, alice.sess, alice.relations, alice.conversations)
	require.NoError(t, ms.Open(context.Background(), conv.ID, 50))
	t.Cleanup(ms.Close)

	calls := rec.recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, "subscribe messages", calls[0])
	assert.Contains(t, calls, "list messages")
}

func TestPreviewEndsOnRuneBoundary(t *testing.T) {
	// 3-byte runes put the byte limit mid-character, so the cut has to
	// back off to the previous boundary.
	long := strings.Repeat("€", 40)
	got := preview(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), previewLimit)
	assert.Equal(t, strings.Repeat("€", 26), got)

	assert.Equal(t, strings.Repeat("a", previewLimit), preview(strings.Repeat("a", previewLimit+10)))
	assert.Equal(t, "short", preview("short"))
}
