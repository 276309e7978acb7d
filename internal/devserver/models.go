// Package devserver is a reference implementation of the records
// backend contract, used for local development and as the target of the
// HTTP client. It persists to postgres through gorm and pushes record
// events over SSE.
package devserver

import (
	"crypto/rand"
	"time"

	"github.com/moneeroz/pocket-chat/internal/models"
)

// User is a users record.
type User struct {
	ID           string `gorm:"primaryKey;size:15"`
	Username     string `gorm:"size:255;uniqueIndex;not null"`
	Name         string `gorm:"size:255"`
	Avatar       string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Relation is a directed relation edge. The composite unique index on
// (from_user_id, to_user_id) is what turns a duplicate-create race into
// a conflict instead of a second edge.
type Relation struct {
	ID         string `gorm:"primaryKey;size:15"`
	FromUserID string `gorm:"size:15;not null;index:idx_relation_pair,unique"`
	ToUserID   string `gorm:"size:15;not null;index:idx_relation_pair,unique"`
	Kind       string `gorm:"size:20;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	FromUser User `gorm:"foreignKey:FromUserID;references:ID;constraint:OnDelete:CASCADE"`
	ToUser   User `gorm:"foreignKey:ToUserID;references:ID;constraint:OnDelete:CASCADE"`
}

// Conversation stores its unordered participant pair in canonical
// order (participant_a < participant_b), so the unique index catches a
// duplicate pair regardless of creation order.
type Conversation struct {
	ID           string `gorm:"primaryKey;size:15"`
	ParticipantA string `gorm:"size:15;not null;index:idx_conversation_pair,unique"`
	ParticipantB string `gorm:"size:15;not null;index:idx_conversation_pair,unique"`
	LastMessage  string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	UserA User `gorm:"foreignKey:ParticipantA;references:ID;constraint:OnDelete:CASCADE"`
	UserB User `gorm:"foreignKey:ParticipantB;references:ID;constraint:OnDelete:CASCADE"`
}

// Message is a messages record; File holds the stored filename under
// the upload directory.
type Message struct {
	ID             string `gorm:"primaryKey;size:15"`
	Text           string
	UserID         string `gorm:"size:15;not null;index"`
	ConversationID string `gorm:"size:15;not null;index"`
	File           string `gorm:"size:255"`
	FileKind       string `gorm:"size:20"`
	FileName       string `gorm:"size:255"`
	FileSize       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	User         User         `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID;constraint:OnDelete:CASCADE"`
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newRecordID returns a 15-character random record id.
func newRecordID() string {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

func stamp(t time.Time) string {
	return t.UTC().Format(models.TimeLayout)
}

// userRecord serializes the public shape of a user.
func userRecord(u *User) map[string]any {
	return map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"name":     u.Name,
		"avatar":   u.Avatar,
		"created":  stamp(u.CreatedAt),
		"updated":  stamp(u.UpdatedAt),
	}
}

func relationRecord(r *Relation, expand map[string]bool) map[string]any {
	rec := map[string]any{
		"id":        r.ID,
		"from_user": r.FromUserID,
		"to_user":   r.ToUserID,
		"kind":      r.Kind,
		"created":   stamp(r.CreatedAt),
		"updated":   stamp(r.UpdatedAt),
	}
	expanded := map[string]any{}
	if expand["from_user"] && r.FromUser.ID != "" {
		expanded["from_user"] = userRecord(&r.FromUser)
	}
	if expand["to_user"] && r.ToUser.ID != "" {
		expanded["to_user"] = userRecord(&r.ToUser)
	}
	if len(expanded) > 0 {
		rec["expand"] = expanded
	}
	return rec
}

func conversationRecord(c *Conversation, expand map[string]bool) map[string]any {
	rec := map[string]any{
		"id":           c.ID,
		"participants": []string{c.ParticipantA, c.ParticipantB},
		"last_message": c.LastMessage,
		"created":      stamp(c.CreatedAt),
		"updated":      stamp(c.UpdatedAt),
	}
	if expand["participants"] && c.UserA.ID != "" && c.UserB.ID != "" {
		rec["expand"] = map[string]any{
			"participants": []map[string]any{userRecord(&c.UserA), userRecord(&c.UserB)},
		}
	}
	return rec
}

func messageRecord(m *Message, expand map[string]bool) map[string]any {
	rec := map[string]any{
		"id":           m.ID,
		"text":         m.Text,
		"user":         m.UserID,
		"conversation": m.ConversationID,
		"created":      stamp(m.CreatedAt),
		"updated":      stamp(m.UpdatedAt),
	}
	if m.File != "" {
		rec["file"] = m.File
		rec["file_kind"] = m.FileKind
		rec["file_name"] = m.FileName
		rec["file_size"] = m.FileSize
	}
	if expand["user"] && m.User.ID != "" {
		rec["expand"] = map[string]any{"user": userRecord(&m.User)}
	}
	return rec
}
