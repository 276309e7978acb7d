package models

import "strings"

// FileKind classifies the attachment of a file message.
type FileKind string

const (
	FileImage    FileKind = "image"
	FileVideo    FileKind = "video"
	FileAudio    FileKind = "audio"
	FileDocument FileKind = "document"
)

// Message belongs to exactly one conversation. It carries text, a file,
// or both, never neither.
type Message struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	User         string         `json:"user"`
	Conversation string         `json:"conversation"`
	File         string         `json:"file,omitempty"`
	FileKind     FileKind       `json:"file_kind,omitempty"`
	FileName     string         `json:"file_name,omitempty"`
	FileSize     int64          `json:"file_size,omitempty"`
	Thumbnail    string         `json:"thumbnail,omitempty"`
	Created      string         `json:"created"`
	Updated      string         `json:"updated"`
	Expand       *MessageExpand `json:"expand,omitempty"`
}

// MessageExpand holds the embedded author record.
type MessageExpand struct {
	User *User `json:"user,omitempty"`
}

// Empty reports whether the message has neither text nor a file.
func (m *Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && m.File == ""
}
