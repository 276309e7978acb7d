package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/internal/session"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

var conversationExpand = []string{"participants"}

// ConversationIndex owns the conversations visible to the local user,
// most recently updated first. Visibility requires a mutual friendship
// with the other participant and no block in either direction; the
// predicate queries relation truth from the backend rather than the
// relation store's memory, so a relationship change made by another
// session is honored before its event arrives here.
type ConversationIndex struct {
	backend   backend.Client
	session   *session.Session
	relations *RelationStore

	mu            sync.Mutex
	conversations []models.Conversation
	lastErr       error

	unsubscribe backend.UnsubscribeFunc
}

func NewConversationIndex(b backend.Client, s *session.Session, relations *RelationStore) *ConversationIndex {
	return &ConversationIndex{
		backend:   b,
		session:   s,
		relations: relations,
	}
}

// Start blocks until identity is available, then attaches the event
// subscription and loads the index. Subscribing first means no event
// can slip past while the initial fetch is in flight.
func (ci *ConversationIndex) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ci.session.Ready():
	}

	unsub, err := ci.backend.Subscribe(models.CollectionConversations, ci.OnConversationEvent)
	if err != nil {
		return ci.fail("subscribe conversations", err)
	}
	ci.mu.Lock()
	ci.unsubscribe = unsub
	ci.mu.Unlock()

	if err := ci.FetchAll(ctx); err != nil {
		ci.Stop()
		return err
	}
	return nil
}

// Stop detaches the event subscription.
func (ci *ConversationIndex) Stop() {
	ci.mu.Lock()
	unsub := ci.unsubscribe
	ci.unsubscribe = nil
	ci.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// FetchAll replaces the index with every conversation the local user
// participates in that passes the visibility predicate.
func (ci *ConversationIndex) FetchAll(ctx context.Context) error {
	me := ci.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}

	res, err := ci.backend.List(ctx, models.CollectionConversations, backend.Query{
		Filter: backend.Filter{
			All: []backend.Cond{
				{Field: "participants", Op: backend.OpContains, Value: me},
			},
		},
		Sort:    "-updated",
		PerPage: 200,
		Expand:  conversationExpand,
	})
	if err != nil {
		return ci.fail("fetch conversations", err)
	}

	fetched, err := backend.DecodeItems[models.Conversation](res.Items)
	if err != nil {
		return ci.fail("decode conversations", err)
	}

	visible := make([]models.Conversation, 0, len(fetched))
	for _, conv := range fetched {
		other := conv.OtherParticipant(me)
		if other == nil {
			continue
		}
		ok, err := ci.visibleWith(ctx, other.ID)
		if err != nil {
			return ci.fail("check conversation visibility", err)
		}
		if ok {
			visible = append(visible, conv)
		}
	}

	ci.mu.Lock()
	ci.conversations = visible
	ci.lastErr = nil
	ci.mu.Unlock()
	return nil
}

// visibleWith is the friendship/block predicate: both directional
// friend edges must exist. A block in either direction replaces or
// removes an edge, so it fails this check by construction.
func (ci *ConversationIndex) visibleWith(ctx context.Context, otherID string) (bool, error) {
	outgoing, incoming, err := ci.relations.PairWith(ctx, otherID)
	if err != nil {
		return false, err
	}
	if outgoing == nil || outgoing.Kind != models.KindFriend {
		return false, nil
	}
	if incoming == nil || incoming.Kind != models.KindFriend {
		return false, nil
	}
	return true, nil
}

// Conversations returns a copy of the current index, most recently
// updated first.
func (ci *ConversationIndex) Conversations() []models.Conversation {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	out := make([]models.Conversation, len(ci.conversations))
	copy(out, ci.conversations)
	return out
}

// Err returns the last backend failure, for passive observers.
func (ci *ConversationIndex) Err() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.lastErr
}

// GetOrCreate returns the conversation with another user, creating it
// on first use. The two users must currently be friends; this is
// enforced here regardless of what the backend allows. Two sessions
// racing through the not-found window can still create duplicates; the
// backend's uniqueness enforcement is the real guard.
func (ci *ConversationIndex) GetOrCreate(ctx context.Context, otherUserID string) (*models.Conversation, error) {
	me := ci.session.UserID()
	if me == "" {
		return nil, apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if otherUserID == me {
		return nil, apperr.New(apperr.CodeSelfReference, "cannot start a conversation with yourself")
	}
	if status := ci.relations.StatusWith(otherUserID); status.Kind != models.StatusFriend {
		return nil, apperr.New(apperr.CodeInvalidState, "can only message friends")
	}

	res, err := ci.backend.List(ctx, models.CollectionConversations, backend.Query{
		Filter: backend.Filter{
			All: []backend.Cond{
				{Field: "participants", Op: backend.OpContains, Value: me},
				{Field: "participants", Op: backend.OpContains, Value: otherUserID},
			},
		},
		PerPage: 1,
		Expand:  conversationExpand,
	})
	if err != nil {
		return nil, ci.fail("look up conversation", err)
	}
	if len(res.Items) > 0 {
		var conv models.Conversation
		if err := json.Unmarshal(res.Items[0], &conv); err != nil {
			return nil, ci.fail("decode conversation", err)
		}
		ci.upsert(conv)
		return &conv, nil
	}

	raw, err := ci.backend.Create(ctx, models.CollectionConversations, map[string]any{
		"participants": []string{me, otherUserID},
	})
	if err != nil {
		return nil, ci.fail("create conversation", err)
	}
	var created models.Conversation
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, ci.fail("decode conversation", err)
	}

	// The create response carries no expansion; refetch for the
	// participant records.
	conv, err := ci.ByID(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	ci.upsert(*conv)
	return conv, nil
}

// OtherParticipant resolves the participant that is not the local user.
// Returns nil when expansion data is missing or no identity is set.
func (ci *ConversationIndex) OtherParticipant(conv *models.Conversation) *models.User {
	me := ci.session.UserID()
	if me == "" || conv == nil {
		return nil
	}
	return conv.OtherParticipant(me)
}

// ByID fetches a conversation straight from the backend, bypassing the
// index. Used when a caller needs authoritative data, e.g. resolving
// the other participant for a send-time block check.
func (ci *ConversationIndex) ByID(ctx context.Context, id string) (*models.Conversation, error) {
	raw, err := ci.backend.GetOne(ctx, models.CollectionConversations, id, conversationExpand...)
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Touch bumps a conversation's update timestamp with a last-message
// preview. Best-effort for callers: failures are reported but do not
// undo anything.
func (ci *ConversationIndex) Touch(ctx context.Context, id, preview string) error {
	raw, err := ci.backend.Update(ctx, models.CollectionConversations, id, map[string]any{
		"last_message": preview,
	})
	if err != nil {
		return ci.fail("touch conversation", err)
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return ci.fail("decode conversation", err)
	}
	ci.upsert(conv)
	return nil
}

// OnConversationEvent reconciles one pushed conversation event. Create
// and update events trigger a refetch for expansion and a fresh
// visibility check, which also covers eviction after a friendship was
// revoked elsewhere.
func (ci *ConversationIndex) OnConversationEvent(ev backend.Event) {
	var conv models.Conversation
	if err := json.Unmarshal(ev.Record, &conv); err != nil {
		logger.Warn("dropping malformed conversation event", "error", err)
		return
	}

	me := ci.session.UserID()
	if me == "" {
		return
	}

	switch ev.Action {
	case "create", "update":
		if !conv.HasParticipant(me) {
			return
		}

		ctx := context.Background()
		full, err := ci.ByID(ctx, conv.ID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				ci.removeByID(conv.ID)
			} else {
				logger.Warn("could not refetch conversation for event", "id", conv.ID, "error", err)
			}
			return
		}

		other := full.OtherParticipant(me)
		if other == nil {
			ci.removeByID(conv.ID)
			return
		}
		ok, err := ci.visibleWith(ctx, other.ID)
		if err != nil {
			logger.Warn("could not check visibility for event", "id", conv.ID, "error", err)
			return
		}
		if !ok {
			ci.removeByID(conv.ID)
			return
		}
		ci.upsert(*full)

	case "delete":
		ci.removeByID(conv.ID)
	}
}

// upsert inserts or replaces by id, keeping most-recently-updated
// order.
func (ci *ConversationIndex) upsert(conv models.Conversation) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	replaced := false
	for i := range ci.conversations {
		if ci.conversations[i].ID == conv.ID {
			if conv.Expand == nil {
				conv.Expand = ci.conversations[i].Expand
			}
			ci.conversations[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		ci.conversations = append(ci.conversations, conv)
	}
	sort.SliceStable(ci.conversations, func(i, j int) bool {
		return ci.conversations[i].Updated > ci.conversations[j].Updated
	})
}

func (ci *ConversationIndex) removeByID(id string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for i := range ci.conversations {
		if ci.conversations[i].ID == id {
			ci.conversations = append(ci.conversations[:i], ci.conversations[i+1:]...)
			return
		}
	}
}

func (ci *ConversationIndex) fail(op string, err error) error {
	ci.mu.Lock()
	ci.lastErr = err
	ci.mu.Unlock()
	logger.Error("conversation operation failed", "op", op, "error", err)
	return err
}
