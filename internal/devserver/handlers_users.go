package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/pkg/jwt"
)

// RegisterInput defines the payload for user creation.
type RegisterInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
}

// AuthInput defines the payload for password authentication.
type AuthInput struct {
	Identity string `json:"identity" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) registerUser(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to hash password"})
		return
	}

	user := User{
		ID:           newRecordID(),
		Username:     input.Username,
		Name:         input.Name,
		PasswordHash: string(hashedPassword),
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"message": "Username already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, userRecord(&user))
}

func (s *Server) authWithPassword(c *gin.Context) {
	var input AuthInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var user User
	if err := s.db.First(&user, "username = ?", input.Identity).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid credentials"})
		return
	}

	token, err := jwt.GenerateToken(user.ID, s.jwtSecret, tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"record": userRecord(&user),
	})
}

func (s *Server) listUsers(c *gin.Context) {
	p := readListParams(c)
	filter, err := parseFilter(p.filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	query, err := applyFilter(s.db.Model(&User{}), filter, func(cond backend.Cond) (string, []any, bool) {
		switch {
		case cond.Field == "id" && cond.Op == backend.OpEqual:
			return "id = ?", []any{cond.Value}, true
		case cond.Field == "username" && cond.Op == backend.OpEqual:
			return "username = ?", []any{cond.Value}, true
		default:
			return "", nil, false
		}
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to count users"})
		return
	}

	var users []User
	if err := query.Offset((p.page - 1) * p.perPage).Limit(p.perPage).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch users"})
		return
	}

	items := make([]map[string]any, 0, len(users))
	for i := range users {
		items = append(items, userRecord(&users[i]))
	}
	listResponse(c, p, total, items)
}

func (s *Server) getUser(c *gin.Context) {
	var user User
	if err := s.db.First(&user, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}
	c.JSON(http.StatusOK, userRecord(&user))
}
