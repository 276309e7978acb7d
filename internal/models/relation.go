package models

// RelationKind is the stored kind of a directed relation edge.
type RelationKind string

const (
	// KindPendingSent means a friend request has been sent but not yet
	// accepted. Seen from the receiving side it reads as a pending
	// received request; that view is computed, never stored.
	KindPendingSent RelationKind = "pending_sent"

	// KindFriend means the edge's from-user counts the to-user as a
	// friend. Mutual friendship is two edges, one per direction.
	KindFriend RelationKind = "friend"

	// KindBlocked means the edge's from-user blocks the to-user.
	// Blocking is unilateral and says nothing about the reverse edge.
	KindBlocked RelationKind = "blocked"
)

// Relation is a directed edge between two users.
type Relation struct {
	ID      string          `json:"id"`
	From    string          `json:"from_user"`
	To      string          `json:"to_user"`
	Kind    RelationKind    `json:"kind"`
	Created string          `json:"created"`
	Updated string          `json:"updated"`
	Expand  *RelationExpand `json:"expand,omitempty"`
}

// RelationExpand holds embedded user records when the query asked for
// reference expansion.
type RelationExpand struct {
	FromUser *User `json:"from_user,omitempty"`
	ToUser   *User `json:"to_user,omitempty"`
}

// Touches reports whether userID is either endpoint of the edge.
func (r *Relation) Touches(userID string) bool {
	return r.From == userID || r.To == userID
}

// Other returns the endpoint that is not userID, or "" if userID is not
// an endpoint.
func (r *Relation) Other(userID string) string {
	switch userID {
	case r.From:
		return r.To
	case r.To:
		return r.From
	default:
		return ""
	}
}

// StatusKind is a computed relation status between the local user and
// another user. It is derived from stored edges and never persisted.
type StatusKind string

const (
	StatusNone            StatusKind = "no_relation"
	StatusPendingSent     StatusKind = "pending_sent"
	StatusPendingReceived StatusKind = "pending_received"
	StatusFriend          StatusKind = "friend"
	StatusBlocked         StatusKind = "blocked"
)

// Status is the computed relation between the local user and another
// user, from the local user's point of view.
type Status struct {
	Kind StatusKind
	// InitiatedByMe is meaningful for StatusBlocked: true when the local
	// user placed the block, false when the other user did.
	InitiatedByMe bool
}

// ComputeStatus derives the status localID holds toward the other user
// from the outgoing and incoming edges between them. The outgoing edge
// wins; a pending_sent incoming edge reads as pending_received.
func ComputeStatus(localID string, outgoing, incoming *Relation) Status {
	if outgoing != nil {
		switch outgoing.Kind {
		case KindPendingSent:
			return Status{Kind: StatusPendingSent, InitiatedByMe: true}
		case KindFriend:
			return Status{Kind: StatusFriend}
		case KindBlocked:
			return Status{Kind: StatusBlocked, InitiatedByMe: true}
		}
	}
	if incoming != nil {
		switch incoming.Kind {
		case KindPendingSent:
			return Status{Kind: StatusPendingReceived}
		case KindFriend:
			return Status{Kind: StatusFriend}
		case KindBlocked:
			return Status{Kind: StatusBlocked}
		}
	}
	return Status{Kind: StatusNone}
}
