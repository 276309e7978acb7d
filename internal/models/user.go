package models

import "time"

// Collection names on the records backend.
const (
	CollectionUsers         = "users"
	CollectionRelations     = "relations"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
)

// TimeLayout is the wire format of record timestamps.
const TimeLayout = "2006-01-02 15:04:05.000Z"

// NowTimestamp formats the current UTC time in the record wire format.
// Timestamps in this format compare correctly as strings, which is what
// the stores rely on for ordering.
func NowTimestamp() string {
	return time.Now().UTC().Format(TimeLayout)
}

// User is the public shape of a user record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Created  string `json:"created"`
	Updated  string `json:"updated"`
}
