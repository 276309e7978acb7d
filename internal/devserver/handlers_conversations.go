package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
)

// ConversationInput defines the payload for conversation creation.
type ConversationInput struct {
	Participants []string `json:"participants" binding:"required,len=2"`
}

// ConversationPatch defines the payload for conversation updates.
type ConversationPatch struct {
	LastMessage string `json:"last_message"`
}

func conversationColumns(cond backend.Cond) (string, []any, bool) {
	switch {
	case cond.Field == "id" && cond.Op == backend.OpEqual:
		return "id = ?", []any{cond.Value}, true
	case cond.Field == "participants" && cond.Op == backend.OpContains:
		return "(participant_a = ? OR participant_b = ?)", []any{cond.Value, cond.Value}, true
	default:
		return "", nil, false
	}
}

func (s *Server) listConversations(c *gin.Context) {
	p := readListParams(c)
	filter, err := parseFilter(p.filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	query, err := applyFilter(s.db.Model(&Conversation{}), filter, conversationColumns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to count conversations"})
		return
	}

	if p.expand["participants"] {
		query = query.Preload("UserA").Preload("UserB")
	}
	if order, ok := orderClause(p.sort, map[string]string{"created": "created_at", "updated": "updated_at"}); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown sort field"})
		return
	} else if order != "" {
		query = query.Order(order)
	}

	var conversations []Conversation
	if err := query.Offset((p.page - 1) * p.perPage).Limit(p.perPage).Find(&conversations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch conversations"})
		return
	}

	items := make([]map[string]any, 0, len(conversations))
	for i := range conversations {
		items = append(items, conversationRecord(&conversations[i], p.expand))
	}
	listResponse(c, p, total, items)
}

func (s *Server) createConversation(c *gin.Context) {
	var input ConversationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	a, b := input.Participants[0], input.Participants[1]
	if a == b {
		c.JSON(http.StatusBadRequest, gin.H{"message": "A conversation needs two distinct participants"})
		return
	}
	me := authedUser(c)
	if a != me && b != me {
		c.JSON(http.StatusForbidden, gin.H{"message": "You must be a participant"})
		return
	}
	// Canonical order so the unique index catches duplicates created in
	// either order.
	if a > b {
		a, b = b, a
	}

	conversation := Conversation{
		ID:           newRecordID(),
		ParticipantA: a,
		ParticipantB: b,
	}
	if err := s.db.Create(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"message": "A conversation for this pair already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create conversation"})
		return
	}

	record := conversationRecord(&conversation, nil)
	s.broadcast(models.CollectionConversations, "create", record)
	c.JSON(http.StatusCreated, record)
}

func (s *Server) getConversation(c *gin.Context) {
	p := readListParams(c)
	query := s.db
	if p.expand["participants"] {
		query = query.Preload("UserA").Preload("UserB")
	}

	var conversation Conversation
	if err := query.First(&conversation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conversationRecord(&conversation, p.expand))
}

func (s *Server) updateConversation(c *gin.Context) {
	var patch ConversationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var conversation Conversation
	if err := s.db.First(&conversation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
		return
	}
	me := authedUser(c)
	if conversation.ParticipantA != me && conversation.ParticipantB != me {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not your conversation"})
		return
	}

	conversation.LastMessage = patch.LastMessage
	if err := s.db.Save(&conversation).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update conversation"})
		return
	}

	record := conversationRecord(&conversation, nil)
	s.broadcast(models.CollectionConversations, "update", record)
	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteConversation(c *gin.Context) {
	var conversation Conversation
	if err := s.db.First(&conversation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
		return
	}
	me := authedUser(c)
	if conversation.ParticipantA != me && conversation.ParticipantB != me {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not your conversation"})
		return
	}

	if err := s.db.Delete(&conversation).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete conversation"})
		return
	}

	s.broadcast(models.CollectionConversations, "delete", conversationRecord(&conversation, nil))
	c.Status(http.StatusNoContent)
}
