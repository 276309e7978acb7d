package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/models"
)

// RelationInput defines the payload for relation creation.
type RelationInput struct {
	FromUser string `json:"from_user" binding:"required"`
	ToUser   string `json:"to_user" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
}

// RelationPatch defines the payload for relation updates. Only the
// kind is mutable.
type RelationPatch struct {
	Kind string `json:"kind" binding:"required"`
}

func validRelationKind(kind string) bool {
	switch models.RelationKind(kind) {
	case models.KindPendingSent, models.KindFriend, models.KindBlocked:
		return true
	}
	return false
}

func relationColumns(cond backend.Cond) (string, []any, bool) {
	if cond.Op != backend.OpEqual {
		return "", nil, false
	}
	switch cond.Field {
	case "id":
		return "id = ?", []any{cond.Value}, true
	case "from_user":
		return "from_user_id = ?", []any{cond.Value}, true
	case "to_user":
		return "to_user_id = ?", []any{cond.Value}, true
	case "kind":
		return "kind = ?", []any{cond.Value}, true
	default:
		return "", nil, false
	}
}

func (s *Server) listRelations(c *gin.Context) {
	p := readListParams(c)
	filter, err := parseFilter(p.filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	query, err := applyFilter(s.db.Model(&Relation{}), filter, relationColumns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to count relations"})
		return
	}

	if p.expand["from_user"] {
		query = query.Preload("FromUser")
	}
	if p.expand["to_user"] {
		query = query.Preload("ToUser")
	}
	if order, ok := orderClause(p.sort, map[string]string{"created": "created_at", "updated": "updated_at"}); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown sort field"})
		return
	} else if order != "" {
		query = query.Order(order)
	}

	var relations []Relation
	if err := query.Offset((p.page - 1) * p.perPage).Limit(p.perPage).Find(&relations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch relations"})
		return
	}

	items := make([]map[string]any, 0, len(relations))
	for i := range relations {
		items = append(items, relationRecord(&relations[i], p.expand))
	}
	listResponse(c, p, total, items)
}

func (s *Server) createRelation(c *gin.Context) {
	var input RelationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if !validRelationKind(input.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown relation kind"})
		return
	}
	if input.FromUser != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Relations can only be created by their from-user"})
		return
	}
	if input.FromUser == input.ToUser {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Cannot create a relation to yourself"})
		return
	}

	relation := Relation{
		ID:         newRecordID(),
		FromUserID: input.FromUser,
		ToUserID:   input.ToUser,
		Kind:       input.Kind,
	}
	if err := s.db.Create(&relation).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"message": "A relation for this pair already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create relation"})
		return
	}

	record := relationRecord(&relation, nil)
	s.broadcast(models.CollectionRelations, "create", record)
	c.JSON(http.StatusCreated, record)
}

func (s *Server) getRelation(c *gin.Context) {
	var relation Relation
	query := s.db
	p := readListParams(c)
	if p.expand["from_user"] {
		query = query.Preload("FromUser")
	}
	if p.expand["to_user"] {
		query = query.Preload("ToUser")
	}
	if err := query.First(&relation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Relation not found"})
		return
	}
	c.JSON(http.StatusOK, relationRecord(&relation, p.expand))
}

func (s *Server) updateRelation(c *gin.Context) {
	var patch RelationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if !validRelationKind(patch.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown relation kind"})
		return
	}

	var relation Relation
	if err := s.db.First(&relation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Relation not found"})
		return
	}
	if relation.FromUserID != authedUser(c) && relation.ToUserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not your relation"})
		return
	}

	relation.Kind = patch.Kind
	if err := s.db.Save(&relation).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update relation"})
		return
	}

	record := relationRecord(&relation, nil)
	s.broadcast(models.CollectionRelations, "update", record)
	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteRelation(c *gin.Context) {
	var relation Relation
	if err := s.db.First(&relation, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Relation not found"})
		return
	}
	if relation.FromUserID != authedUser(c) && relation.ToUserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Not your relation"})
		return
	}

	if err := s.db.Delete(&relation).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete relation"})
		return
	}

	s.broadcast(models.CollectionRelations, "delete", relationRecord(&relation, nil))
	c.Status(http.StatusNoContent)
}
