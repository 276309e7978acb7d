package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/internal/session"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

var messageExpand = []string{"user"}

// previewLimit caps the last-message preview written to the
// conversation record.
const previewLimit = 80

// MessageStream owns the loaded message window for the one active
// conversation. Switching conversations clears the window and detaches
// the previous subscription before attaching a new one. Events for any
// other conversation are ignored, as are late load responses for a
// conversation that is no longer active.
type MessageStream struct {
	backend       backend.Client
	session       *session.Session
	relations     *RelationStore
	conversations *ConversationIndex

	mu       sync.Mutex
	active   string
	messages []models.Message
	inflight map[string]struct{}
	lastErr  error

	unsubscribe backend.UnsubscribeFunc
}

func NewMessageStream(b backend.Client, s *session.Session, relations *RelationStore, conversations *ConversationIndex) *MessageStream {
	return &MessageStream{
		backend:       b,
		session:       s,
		relations:     relations,
		conversations: conversations,
		inflight:      make(map[string]struct{}),
	}
}

// Open makes conversationID the active conversation: the previous
// window and subscription are dropped, a new subscription is attached,
// and then the first page is loaded.
func (ms *MessageStream) Open(ctx context.Context, conversationID string, pageSize int) error {
	ms.mu.Lock()
	unsub := ms.unsubscribe
	ms.unsubscribe = nil
	ms.active = conversationID
	ms.messages = nil
	ms.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	// Subscribe before loading so an event landing during the page
	// fetch is not lost. Load replaces the window wholesale, and events
	// after the snapshot re-apply idempotently.
	newUnsub, err := ms.backend.Subscribe(models.CollectionMessages, ms.OnMessageEvent)
	if err != nil {
		return ms.fail("subscribe messages", err)
	}
	ms.mu.Lock()
	ms.unsubscribe = newUnsub
	ms.mu.Unlock()

	if err := ms.Load(ctx, conversationID, 1, pageSize); err != nil {
		ms.Close()
		return err
	}
	return nil
}

// Close detaches the subscription and clears the window.
func (ms *MessageStream) Close() {
	ms.mu.Lock()
	unsub := ms.unsubscribe
	ms.unsubscribe = nil
	ms.active = ""
	ms.messages = nil
	ms.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Load replaces the window with one page of messages in creation
// order. A response arriving after the active conversation changed is
// discarded.
func (ms *MessageStream) Load(ctx context.Context, conversationID string, page, pageSize int) error {
	res, err := ms.backend.List(ctx, models.CollectionMessages, backend.Query{
		Filter: backend.Filter{
			All: []backend.Cond{
				{Field: "conversation", Op: backend.OpEqual, Value: conversationID},
			},
		},
		Sort:    "created",
		Page:    page,
		PerPage: pageSize,
		Expand:  messageExpand,
	})
	if err != nil {
		return ms.fail("load messages", err)
	}

	fetched, err := backend.DecodeItems[models.Message](res.Items)
	if err != nil {
		return ms.fail("decode messages", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.active != conversationID {
		logger.Debug("discarding stale message page", "conversation", conversationID)
		return nil
	}
	ms.messages = fetched
	ms.lastErr = nil
	return nil
}

// Messages returns a copy of the current window.
func (ms *MessageStream) Messages() []models.Message {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]models.Message, len(ms.messages))
	copy(out, ms.messages)
	return out
}

// Active returns the active conversation id, or "".
func (ms *MessageStream) Active() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.active
}

// Err returns the last backend failure, for passive observers.
func (ms *MessageStream) Err() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastErr
}

// Send creates a text message after the block check, then bumps the
// conversation's preview. The bump is best-effort: its failure does not
// undo the created message.
func (ms *MessageStream) Send(ctx context.Context, conversationID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.CodeValidation, "message text is empty")
	}

	me, err := ms.checkSendAllowed(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	raw, err := ms.backend.Create(ctx, models.CollectionMessages, map[string]any{
		"text":         text,
		"user":         me,
		"conversation": conversationID,
	})
	if err != nil {
		return nil, ms.fail("send message", err)
	}

	msg, err := ms.acceptWritten(raw)
	if err != nil {
		return nil, err
	}
	ms.touchConversation(ctx, conversationID, preview(text))
	return msg, nil
}

// SendFile streams a file message. Size limits per file kind are the
// caller's responsibility; progress percentages arrive through
// up.OnProgress while the body streams.
func (ms *MessageStream) SendFile(ctx context.Context, conversationID string, up *backend.FileUpload, kind models.FileKind) (*models.Message, error) {
	if up == nil || up.Reader == nil || up.Name == "" {
		return nil, apperr.New(apperr.CodeValidation, "no file to send")
	}

	me, err := ms.checkSendAllowed(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	raw, err := ms.backend.CreateFile(ctx, models.CollectionMessages, map[string]any{
		"user":         me,
		"conversation": conversationID,
		"file_kind":    string(kind),
		"file_name":    up.Name,
		"file_size":    up.Size,
	}, up)
	if err != nil {
		return nil, ms.fail("send file message", err)
	}

	msg, err := ms.acceptWritten(raw)
	if err != nil {
		return nil, err
	}
	ms.touchConversation(ctx, conversationID, preview(up.Name))
	return msg, nil
}

// Update edits a message's text. Files cannot be edited.
func (ms *MessageStream) Update(ctx context.Context, messageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apperr.New(apperr.CodeValidation, "message text is empty")
	}

	raw, err := ms.backend.Update(ctx, models.CollectionMessages, messageID, map[string]any{
		"text": text,
	})
	if err != nil {
		return ms.fail("update message", err)
	}

	var updated models.Message
	if err := json.Unmarshal(raw, &updated); err != nil {
		return ms.fail("decode message", err)
	}
	ms.patch(updated)
	return nil
}

// Delete removes a message. Only-the-author authorization is the
// backend's call, not this core's.
func (ms *MessageStream) Delete(ctx context.Context, messageID string) error {
	if err := ms.backend.Delete(ctx, models.CollectionMessages, messageID); err != nil {
		return ms.fail("delete message", err)
	}
	ms.removeByID(messageID)
	return nil
}

// FileURL resolves a message's stored file, optionally as a thumbnail.
func (ms *MessageStream) FileURL(msg *models.Message, thumb string) string {
	if msg == nil || msg.File == "" {
		return ""
	}
	return ms.backend.FileURL(models.CollectionMessages, msg.ID, msg.File, thumb)
}

// checkSendAllowed verifies identity and that neither participant
// blocks the other, resolving the other participant from authoritative
// conversation data.
func (ms *MessageStream) checkSendAllowed(ctx context.Context, conversationID string) (string, error) {
	me := ms.session.UserID()
	if me == "" {
		return "", apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}

	conv, err := ms.conversations.ByID(ctx, conversationID)
	if err != nil {
		return "", ms.fail("resolve conversation", err)
	}
	other := conv.OtherParticipant(me)
	if other == nil {
		return "", apperr.New(apperr.CodeNotFound, "conversation participant could not be resolved")
	}

	outgoing, incoming, err := ms.relations.PairWith(ctx, other.ID)
	if err != nil {
		return "", ms.fail("check block state", err)
	}
	if outgoing != nil && outgoing.Kind == models.KindBlocked {
		return "", apperr.New(apperr.CodeBlocked, "you have blocked this user")
	}
	if incoming != nil && incoming.Kind == models.KindBlocked {
		return "", apperr.New(apperr.CodeBlocked, "this user has blocked you")
	}
	return me, nil
}

// acceptWritten decodes a confirmed write and inserts it if the
// conversation is still active. The id dedupe makes this safe against
// the push event for the same write landing first.
func (ms *MessageStream) acceptWritten(raw json.RawMessage) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, ms.fail("decode message", err)
	}

	ms.mu.Lock()
	if ms.active == msg.Conversation && ms.indexOfLocked(msg.ID) < 0 {
		ms.messages = append(ms.messages, msg)
		ms.sortLocked()
	}
	ms.mu.Unlock()
	return &msg, nil
}

func (ms *MessageStream) touchConversation(ctx context.Context, conversationID, text string) {
	if err := ms.conversations.Touch(ctx, conversationID, text); err != nil {
		logger.Warn("could not bump conversation after send", "conversation", conversationID, "error", err)
	}
}

// OnMessageEvent reconciles one pushed message event. Events for a
// conversation other than the active one are ignored.
func (ms *MessageStream) OnMessageEvent(ev backend.Event) {
	var msg models.Message
	if err := json.Unmarshal(ev.Record, &msg); err != nil {
		logger.Warn("dropping malformed message event", "error", err)
		return
	}

	ms.mu.Lock()
	active := ms.active
	ms.mu.Unlock()
	if msg.Conversation != active {
		return
	}

	switch ev.Action {
	case "create":
		ms.mu.Lock()
		if ms.indexOfLocked(msg.ID) >= 0 {
			ms.mu.Unlock()
			return
		}
		if _, busy := ms.inflight[msg.ID]; busy {
			ms.mu.Unlock()
			return
		}
		ms.inflight[msg.ID] = struct{}{}
		ms.mu.Unlock()

		if msg.Expand == nil {
			if full, err := ms.fetchMessage(msg.ID); err == nil {
				msg = *full
			} else {
				logger.Debug("could not expand message event, keeping payload", "id", msg.ID, "error", err)
			}
		}

		ms.mu.Lock()
		delete(ms.inflight, msg.ID)
		if ms.active == msg.Conversation && ms.indexOfLocked(msg.ID) < 0 {
			ms.messages = append(ms.messages, msg)
			ms.sortLocked()
		}
		ms.mu.Unlock()

	case "update":
		ms.patch(msg)

	case "delete":
		ms.removeByID(msg.ID)
	}
}

func (ms *MessageStream) fetchMessage(id string) (*models.Message, error) {
	raw, err := ms.backend.GetOne(context.Background(), models.CollectionMessages, id, messageExpand...)
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// patch updates text and timestamp in place, keeping any expansion the
// stored copy already has.
func (ms *MessageStream) patch(msg models.Message) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if i := ms.indexOfLocked(msg.ID); i >= 0 {
		ms.messages[i].Text = msg.Text
		ms.messages[i].Updated = msg.Updated
	}
}

func (ms *MessageStream) removeByID(id string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if i := ms.indexOfLocked(id); i >= 0 {
		ms.messages = append(ms.messages[:i], ms.messages[i+1:]...)
	}
}

func (ms *MessageStream) indexOfLocked(id string) int {
	for i := range ms.messages {
		if ms.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (ms *MessageStream) sortLocked() {
	sort.SliceStable(ms.messages, func(i, j int) bool {
		return ms.messages[i].Created < ms.messages[j].Created
	})
}

func (ms *MessageStream) fail(op string, err error) error {
	ms.mu.Lock()
	ms.lastErr = err
	ms.mu.Unlock()
	logger.Error("message operation failed", "op", op, "error", err)
	return err
}

func preview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	// Back off to a rune boundary so the cut never splits a
	// multi-byte character.
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
