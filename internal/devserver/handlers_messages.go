package devserver

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
)

// MessagePatch defines the payload for message edits. Files are not
// editable.
type MessagePatch struct {
	Text string `json:"text" binding:"required"`
}

func messageColumns(cond backend.Cond) (string, []any, bool) {
	if cond.Op != backend.OpEqual {
		return "", nil, false
	}
	switch cond.Field {
	case "id":
		return "id = ?", []any{cond.Value}, true
	case "user":
		return "user_id = ?", []any{cond.Value}, true
	case "conversation":
		return "conversation_id = ?", []any{cond.Value}, true
	default:
		return "", nil, false
	}
}

func (s *Server) listMessages(c *gin.Context) {
	p := readListParams(c)
	filter, err := parseFilter(p.filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	query, err := applyFilter(s.db.Model(&Message{}), filter, messageColumns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to count messages"})
		return
	}

	if p.expand["user"] {
		query = query.Preload("User")
	}
	if order, ok := orderClause(p.sort, map[string]string{"created": "created_at", "updated": "updated_at"}); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown sort field"})
		return
	} else if order != "" {
		query = query.Order(order)
	}

	var messages []Message
	if err := query.Offset((p.page - 1) * p.perPage).Limit(p.perPage).Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch messages"})
		return
	}

	items := make([]map[string]any, 0, len(messages))
	for i := range messages {
		items = append(items, messageRecord(&messages[i], p.expand))
	}
	listResponse(c, p, total, items)
}

func (s *Server) createMessage(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		s.createFileMessage(c)
		return
	}

	var input struct {
		Text         string `json:"text"`
		User         string `json:"user" binding:"required"`
		Conversation string `json:"conversation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if strings.TrimSpace(input.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "A message needs text or a file"})
		return
	}

	message := Message{
		ID:             newRecordID(),
		Text:           input.Text,
		UserID:         input.User,
		ConversationID: input.Conversation,
	}
	if !s.storeMessage(c, &message) {
		return
	}

	record := messageRecord(&message, nil)
	s.broadcast(models.CollectionMessages, "create", record)
	c.JSON(http.StatusCreated, record)
}

func (s *Server) createFileMessage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "A message needs text or a file"})
		return
	}
	fileSize, _ := strconv.ParseInt(c.PostForm("file_size"), 10, 64)
	if fileSize == 0 {
		fileSize = fileHeader.Size
	}

	message := Message{
		ID:             newRecordID(),
		Text:           c.PostForm("text"),
		UserID:         c.PostForm("user"),
		ConversationID: c.PostForm("conversation"),
		File:           filepath.Base(fileHeader.Filename),
		FileKind:       c.PostForm("file_kind"),
		FileName:       c.PostForm("file_name"),
		FileSize:       fileSize,
	}
	if message.FileName == "" {
		message.FileName = message.File
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to store file"})
		return
	}
	if err := c.SaveUploadedFile(fileHeader, filepath.Join(s.uploadDir, message.ID+"_"+message.File)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to store file"})
		return
	}

	if !s.storeMessage(c, &message) {
		return
	}

	record := messageRecord(&message, nil)
	s.broadcast(models.CollectionMessages, "create", record)
	c.JSON(http.StatusCreated, record)
}

// storeMessage validates ownership and participation, then persists.
// Writes its own error response and returns false on failure.
func (s *Server) storeMessage(c *gin.Context, message *Message) bool {
	if message.UserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Messages can only be created by their author"})
		return false
	}

	var conversation Conversation
	if err := s.db.First(&conversation, "id = ?", message.ConversationID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
		return false
	}
	if conversation.ParticipantA != message.UserID && conversation.ParticipantB != message.UserID {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not your conversation"})
		return false
	}

	if err := s.db.Create(message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create message"})
		return false
	}
	return true
}

func (s *Server) getMessage(c *gin.Context) {
	p := readListParams(c)
	query := s.db
	if p.expand["user"] {
		query = query.Preload("User")
	}

	var message Message
	if err := query.First(&message, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Message not found"})
		return
	}
	c.JSON(http.StatusOK, messageRecord(&message, p.expand))
}

func (s *Server) updateMessage(c *gin.Context) {
	var patch MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var message Message
	if err := s.db.First(&message, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Message not found"})
		return
	}
	if message.UserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Only the author can edit a message"})
		return
	}

	message.Text = patch.Text
	if err := s.db.Save(&message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update message"})
		return
	}

	record := messageRecord(&message, nil)
	s.broadcast(models.CollectionMessages, "update", record)
	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteMessage(c *gin.Context) {
	var message Message
	if err := s.db.First(&message, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Message not found"})
		return
	}
	if message.UserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Only the author can delete a message"})
		return
	}

	if err := s.db.Delete(&message).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete message"})
		return
	}
	if message.File != "" {
		_ = os.Remove(filepath.Join(s.uploadDir, message.ID+"_"+message.File))
	}

	s.broadcast(models.CollectionMessages, "delete", messageRecord(&message, nil))
	c.Status(http.StatusNoContent)
}
