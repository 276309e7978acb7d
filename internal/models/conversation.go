package models

// Conversation is an unordered pair of participants plus metadata.
// Exactly two participant IDs are expected.
type Conversation struct {
	ID           string              `json:"id"`
	Participants []string            `json:"participants"`
	LastMessage  string              `json:"last_message"`
	Created      string              `json:"created"`
	Updated      string              `json:"updated"`
	Expand       *ConversationExpand `json:"expand,omitempty"`
}

// ConversationExpand holds the embedded participant records.
type ConversationExpand struct {
	Participants []User `json:"participants,omitempty"`
}

// HasParticipant reports whether userID is one of the participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the expanded user record of the participant
// that is not localID. Returns nil when expansion data is missing or
// localID is not a participant.
func (c *Conversation) OtherParticipant(localID string) *User {
	if c.Expand == nil || !c.HasParticipant(localID) {
		return nil
	}
	for i := range c.Expand.Participants {
		if c.Expand.Participants[i].ID != localID {
			return &c.Expand.Participants[i]
		}
	}
	return nil
}
