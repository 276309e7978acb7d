// Package store implements the client core: the relation store, the
// conversation index, and the message stream. Each store exclusively
// owns its in-memory collection, reconciled from an initial fetch plus
// the backend's event stream. Collections are copied when exposed, so
// readers never hold the live slice.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/internal/session"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

// relationExpand is the reference expansion requested for relation
// queries.
var relationExpand = []string{"from_user", "to_user"}

// RelationStore owns the set of relation edges touching the local user
// and computes friend/block/pending status from it.
type RelationStore struct {
	backend backend.Client
	session *session.Session

	mu        sync.Mutex
	relations []models.Relation
	// inflight suppresses duplicate create events for a record id that
	// arrive while the first one's expansion fetch is still running.
	inflight map[string]struct{}
	lastErr  error

	unsubscribe backend.UnsubscribeFunc
}

func NewRelationStore(b backend.Client, s *session.Session) *RelationStore {
	return &RelationStore{
		backend:  b,
		session:  s,
		inflight: make(map[string]struct{}),
	}
}

// Start blocks until identity is available, then attaches the event
// subscription and loads the collection. Subscribing first means no
// event can slip past while the initial fetch is in flight.
func (rs *RelationStore) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rs.session.Ready():
	}

	unsub, err := rs.backend.Subscribe(models.CollectionRelations, rs.OnRelationEvent)
	if err != nil {
		return rs.fail("subscribe relations", err)
	}
	rs.mu.Lock()
	rs.unsubscribe = unsub
	rs.mu.Unlock()

	if err := rs.FetchAll(ctx); err != nil {
		rs.Stop()
		return err
	}
	return nil
}

// Stop detaches the event subscription.
func (rs *RelationStore) Stop() {
	rs.mu.Lock()
	unsub := rs.unsubscribe
	rs.unsubscribe = nil
	rs.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// FetchAll replaces the whole collection with a fresh fetch of every
// edge touching the local user. On failure the prior collection is kept
// intact.
func (rs *RelationStore) FetchAll(ctx context.Context) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}

	res, err := rs.backend.List(ctx, models.CollectionRelations, backend.Query{
		Filter: backend.Filter{
			Any: []backend.Cond{
				{Field: "from_user", Op: backend.OpEqual, Value: me},
				{Field: "to_user", Op: backend.OpEqual, Value: me},
			},
		},
		PerPage: 500,
		Expand:  relationExpand,
	})
	if err != nil {
		return rs.fail("fetch relations", err)
	}

	relations, err := backend.DecodeItems[models.Relation](res.Items)
	if err != nil {
		return rs.fail("decode relations", err)
	}

	rs.mu.Lock()
	rs.relations = relations
	rs.lastErr = nil
	rs.mu.Unlock()
	return nil
}

// Relations returns a copy of the current collection.
func (rs *RelationStore) Relations() []models.Relation {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]models.Relation, len(rs.relations))
	copy(out, rs.relations)
	return out
}

// Err returns the last backend failure, for passive observers. Cleared
// by a successful FetchAll.
func (rs *RelationStore) Err() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastErr
}

// StatusWith computes the local user's status toward another user from
// in-memory state only.
func (rs *RelationStore) StatusWith(userID string) models.Status {
	me := rs.session.UserID()
	rs.mu.Lock()
	outgoing := rs.findEdgeLocked(me, userID)
	incoming := rs.findEdgeLocked(userID, me)
	rs.mu.Unlock()
	return models.ComputeStatus(me, outgoing, incoming)
}

// StatusWithFromBackend computes status from an authoritative backend
// read, bypassing the in-memory collection. Used right after mutations,
// when this or another session may have written edges the collection
// does not yet reflect.
func (rs *RelationStore) StatusWithFromBackend(ctx context.Context, userID string) (models.Status, error) {
	outgoing, incoming, err := rs.PairWith(ctx, userID)
	if err != nil {
		return models.Status{}, err
	}
	return models.ComputeStatus(rs.session.UserID(), outgoing, incoming), nil
}

// PairWith fetches both directional edges between the local user and
// another user straight from the backend. Either result may be nil.
func (rs *RelationStore) PairWith(ctx context.Context, userID string) (outgoing, incoming *models.Relation, err error) {
	me := rs.session.UserID()
	if me == "" {
		return nil, nil, apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}

	outgoing, err = rs.fetchEdge(ctx, me, userID)
	if err != nil {
		return nil, nil, err
	}
	incoming, err = rs.fetchEdge(ctx, userID, me)
	if err != nil {
		return nil, nil, err
	}
	return outgoing, incoming, nil
}

func (rs *RelationStore) fetchEdge(ctx context.Context, from, to string) (*models.Relation, error) {
	res, err := rs.backend.List(ctx, models.CollectionRelations, backend.Query{
		Filter: backend.Filter{
			All: []backend.Cond{
				{Field: "from_user", Op: backend.OpEqual, Value: from},
				{Field: "to_user", Op: backend.OpEqual, Value: to},
			},
		},
		PerPage: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	var rel models.Relation
	if err := json.Unmarshal(res.Items[0], &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// SendFriendRequest creates a pending edge toward the target. Requires
// no existing relation in either direction.
func (rs *RelationStore) SendFriendRequest(ctx context.Context, targetID string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if targetID == me {
		return apperr.New(apperr.CodeSelfReference, "cannot send a friend request to yourself")
	}
	if status := rs.StatusWith(targetID); status.Kind != models.StatusNone {
		return apperr.New(apperr.CodeInvalidState, fmt.Sprintf("a relation already exists (%s)", status.Kind))
	}

	raw, err := rs.backend.Create(ctx, models.CollectionRelations, map[string]any{
		"from_user": me,
		"to_user":   targetID,
		"kind":      string(models.KindPendingSent),
	})
	if err != nil {
		return rs.fail("send friend request", err)
	}

	rs.upsertRaw(raw)
	return nil
}

// AcceptFriendRequest turns a pending received request into a mutual
// friendship: the incoming edge is mutated to friend, then a reciprocal
// outgoing friend edge is created or mutated. The two writes are not
// atomic; a failure between them leaves a one-sided friend edge that
// does not grant conversation visibility and is fixed by RepairPass or
// a retry.
func (rs *RelationStore) AcceptFriendRequest(ctx context.Context, targetID string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if rs.StatusWith(targetID).Kind != models.StatusPendingReceived {
		return apperr.New(apperr.CodeInvalidState, "no pending request from this user")
	}

	rs.mu.Lock()
	incoming := rs.findEdgeLocked(targetID, me)
	outgoing := rs.findEdgeLocked(me, targetID)
	rs.mu.Unlock()
	if incoming == nil {
		return apperr.New(apperr.CodeNotFound, "pending request no longer exists")
	}

	raw, err := rs.backend.Update(ctx, models.CollectionRelations, incoming.ID, map[string]any{
		"kind": string(models.KindFriend),
	})
	if err != nil {
		return rs.fail("accept friend request", err)
	}
	rs.upsertRaw(raw)

	if outgoing != nil {
		raw, err = rs.backend.Update(ctx, models.CollectionRelations, outgoing.ID, map[string]any{
			"kind": string(models.KindFriend),
		})
	} else {
		raw, err = rs.backend.Create(ctx, models.CollectionRelations, map[string]any{
			"from_user": me,
			"to_user":   targetID,
			"kind":      string(models.KindFriend),
		})
	}
	if err != nil {
		return rs.fail("accept friend request (reciprocal edge)", err)
	}
	rs.upsertRaw(raw)
	return nil
}

// RejectFriendRequest deletes a pending received request.
func (rs *RelationStore) RejectFriendRequest(ctx context.Context, targetID string) error {
	return rs.deletePending(ctx, targetID, models.StatusPendingReceived, "reject friend request")
}

// CancelFriendRequest deletes a pending sent request.
func (rs *RelationStore) CancelFriendRequest(ctx context.Context, targetID string) error {
	return rs.deletePending(ctx, targetID, models.StatusPendingSent, "cancel friend request")
}

func (rs *RelationStore) deletePending(ctx context.Context, targetID string, want models.StatusKind, op string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if rs.StatusWith(targetID).Kind != want {
		return apperr.New(apperr.CodeInvalidState, "no pending request with this user")
	}

	rs.mu.Lock()
	var edge *models.Relation
	if want == models.StatusPendingReceived {
		edge = rs.findEdgeLocked(targetID, me)
	} else {
		edge = rs.findEdgeLocked(me, targetID)
	}
	rs.mu.Unlock()
	if edge == nil {
		return apperr.New(apperr.CodeNotFound, "pending request no longer exists")
	}

	if err := rs.backend.Delete(ctx, models.CollectionRelations, edge.ID); err != nil {
		return rs.fail(op, err)
	}
	rs.removeByID(edge.ID)
	return nil
}

// RemoveFriend deletes both directional friend edges. The reciprocal
// deletion is best-effort: its absence is tolerated.
func (rs *RelationStore) RemoveFriend(ctx context.Context, targetID string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if rs.StatusWith(targetID).Kind != models.StatusFriend {
		return apperr.New(apperr.CodeInvalidState, "not friends with this user")
	}

	rs.mu.Lock()
	outgoing := rs.findEdgeLocked(me, targetID)
	incoming := rs.findEdgeLocked(targetID, me)
	rs.mu.Unlock()

	if outgoing != nil {
		if err := rs.backend.Delete(ctx, models.CollectionRelations, outgoing.ID); err != nil {
			return rs.fail("remove friend", err)
		}
		rs.removeByID(outgoing.ID)
	}
	if incoming != nil {
		if err := rs.backend.Delete(ctx, models.CollectionRelations, incoming.ID); err != nil {
			if !apperr.Is(err, apperr.CodeNotFound) {
				return rs.fail("remove friend (reciprocal edge)", err)
			}
			logger.Debug("reciprocal friend edge already gone", "target", targetID)
		}
		rs.removeByID(incoming.ID)
	}
	return nil
}

// BlockUser places a unilateral block on the target. An existing
// friendship is torn down first: the incoming edge is deleted before
// the block lands, so no reader ever observes friend and blocked
// together.
func (rs *RelationStore) BlockUser(ctx context.Context, targetID string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	if targetID == me {
		return apperr.New(apperr.CodeSelfReference, "cannot block yourself")
	}
	if status := rs.StatusWith(targetID); status.Kind == models.StatusBlocked && status.InitiatedByMe {
		return apperr.New(apperr.CodeAlreadyBlocked, "user is already blocked")
	}

	rs.mu.Lock()
	outgoing := rs.findEdgeLocked(me, targetID)
	incoming := rs.findEdgeLocked(targetID, me)
	rs.mu.Unlock()

	if incoming != nil && incoming.Kind != models.KindBlocked {
		if err := rs.backend.Delete(ctx, models.CollectionRelations, incoming.ID); err != nil {
			if !apperr.Is(err, apperr.CodeNotFound) {
				return rs.fail("block user (tear down incoming edge)", err)
			}
		}
		rs.removeByID(incoming.ID)
	}

	var raw json.RawMessage
	var err error
	if outgoing != nil {
		raw, err = rs.backend.Update(ctx, models.CollectionRelations, outgoing.ID, map[string]any{
			"kind": string(models.KindBlocked),
		})
	} else {
		raw, err = rs.backend.Create(ctx, models.CollectionRelations, map[string]any{
			"from_user": me,
			"to_user":   targetID,
			"kind":      string(models.KindBlocked),
		})
	}
	if err != nil {
		return rs.fail("block user", err)
	}
	rs.upsertRaw(raw)
	return nil
}

// UnblockUser removes a block the local user placed.
func (rs *RelationStore) UnblockUser(ctx context.Context, targetID string) error {
	me := rs.session.UserID()
	if me == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}
	status := rs.StatusWith(targetID)
	if status.Kind != models.StatusBlocked || !status.InitiatedByMe {
		return apperr.New(apperr.CodeInvalidState, "user is not blocked by you")
	}

	rs.mu.Lock()
	outgoing := rs.findEdgeLocked(me, targetID)
	rs.mu.Unlock()
	if outgoing == nil {
		return apperr.New(apperr.CodeNotFound, "block edge no longer exists")
	}

	if err := rs.backend.Delete(ctx, models.CollectionRelations, outgoing.ID); err != nil {
		return rs.fail("unblock user", err)
	}
	rs.removeByID(outgoing.ID)
	return nil
}

// RepairPass finds incoming friend edges with no matching outgoing
// friend edge, the leftover of a half-completed accept, and completes
// them. Returns the number of edges repaired.
func (rs *RelationStore) RepairPass(ctx context.Context) (int, error) {
	me := rs.session.UserID()
	if me == "" {
		return 0, apperr.New(apperr.CodeNotAuthenticated, "no authenticated user")
	}

	rs.mu.Lock()
	var onesided []models.Relation
	for _, rel := range rs.relations {
		if rel.To != me || rel.Kind != models.KindFriend {
			continue
		}
		outgoing := rs.findEdgeLocked(me, rel.From)
		if outgoing == nil || outgoing.Kind == models.KindPendingSent {
			onesided = append(onesided, rel)
		}
	}
	rs.mu.Unlock()

	repaired := 0
	for _, rel := range onesided {
		rs.mu.Lock()
		outgoing := rs.findEdgeLocked(me, rel.From)
		rs.mu.Unlock()

		var raw json.RawMessage
		var err error
		if outgoing != nil {
			raw, err = rs.backend.Update(ctx, models.CollectionRelations, outgoing.ID, map[string]any{
				"kind": string(models.KindFriend),
			})
		} else {
			raw, err = rs.backend.Create(ctx, models.CollectionRelations, map[string]any{
				"from_user": me,
				"to_user":   rel.From,
				"kind":      string(models.KindFriend),
			})
		}
		if err != nil {
			return repaired, rs.fail("repair one-sided friendship", err)
		}
		rs.upsertRaw(raw)
		logger.Info("repaired one-sided friendship", "other_user", rel.From)
		repaired++
	}
	return repaired, nil
}

// OnRelationEvent reconciles one pushed relation event. Handlers are
// idempotent: replays and out-of-order deliveries leave the collection
// consistent.
func (rs *RelationStore) OnRelationEvent(ev backend.Event) {
	var rel models.Relation
	if err := json.Unmarshal(ev.Record, &rel); err != nil {
		logger.Warn("dropping malformed relation event", "error", err)
		return
	}

	me := rs.session.UserID()
	if me == "" || !rel.Touches(me) {
		return
	}

	switch ev.Action {
	case "create":
		rs.mu.Lock()
		if rs.indexOfLocked(rel.ID) >= 0 {
			rs.mu.Unlock()
			return
		}
		if _, busy := rs.inflight[rel.ID]; busy {
			rs.mu.Unlock()
			return
		}
		rs.inflight[rel.ID] = struct{}{}
		rs.mu.Unlock()

		if rel.Expand == nil {
			if full, err := rs.fetchRelation(rel.ID); err == nil {
				rel = *full
			} else {
				logger.Debug("could not expand relation event, keeping payload", "id", rel.ID, "error", err)
			}
		}

		rs.mu.Lock()
		delete(rs.inflight, rel.ID)
		if rs.indexOfLocked(rel.ID) < 0 {
			rs.relations = append(rs.relations, rel)
		}
		rs.mu.Unlock()

	case "update":
		rs.mu.Lock()
		if i := rs.indexOfLocked(rel.ID); i >= 0 {
			if rel.Expand == nil {
				rel.Expand = rs.relations[i].Expand
			}
			rs.relations[i] = rel
		}
		rs.mu.Unlock()

	case "delete":
		rs.removeByID(rel.ID)
	}
}

func (rs *RelationStore) fetchRelation(id string) (*models.Relation, error) {
	raw, err := rs.backend.GetOne(context.Background(), models.CollectionRelations, id, relationExpand...)
	if err != nil {
		return nil, err
	}
	var rel models.Relation
	if err := json.Unmarshal(raw, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// findEdgeLocked returns the stored edge from→to, or nil. Callers hold
// mu.
func (rs *RelationStore) findEdgeLocked(from, to string) *models.Relation {
	for i := range rs.relations {
		if rs.relations[i].From == from && rs.relations[i].To == to {
			rel := rs.relations[i]
			return &rel
		}
	}
	return nil
}

func (rs *RelationStore) indexOfLocked(id string) int {
	for i := range rs.relations {
		if rs.relations[i].ID == id {
			return i
		}
	}
	return -1
}

// upsertRaw inserts or replaces a relation after a confirmed write. The
// same id-based dedupe as the event path applies, so the push event for
// one's own write cannot double-insert.
func (rs *RelationStore) upsertRaw(raw json.RawMessage) {
	var rel models.Relation
	if err := json.Unmarshal(raw, &rel); err != nil {
		logger.Warn("could not decode written relation", "error", err)
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if i := rs.indexOfLocked(rel.ID); i >= 0 {
		if rel.Expand == nil {
			rel.Expand = rs.relations[i].Expand
		}
		rs.relations[i] = rel
		return
	}
	rs.relations = append(rs.relations, rel)
}

func (rs *RelationStore) removeByID(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if i := rs.indexOfLocked(id); i >= 0 {
		rs.relations = append(rs.relations[:i], rs.relations[i+1:]...)
	}
}

func (rs *RelationStore) fail(op string, err error) error {
	rs.mu.Lock()
	rs.lastErr = err
	rs.mu.Unlock()
	logger.Error("relation operation failed", "op", op, "error", err)
	return err
}
