package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/moneeroz/pocket-chat/internal/hub"
	"github.com/moneeroz/pocket-chat/pkg/jwt"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

const tokenTTL = 7 * 24 * time.Hour

// Server wires the records API: per-collection CRUD, password auth,
// file serving, and the SSE realtime stream.
type Server struct {
	db        *gorm.DB
	hub       *hub.Hub
	jwtSecret string
	uploadDir string
	router    *gin.Engine
}

func New(db *gorm.DB, jwtSecret, uploadDir string) *Server {
	s := &Server{
		db:        db,
		hub:       hub.New(),
		jwtSecret: jwtSecret,
		uploadDir: uploadDir,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, e.g. to httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.Default()

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := router.Group("/api")
	{
		users := api.Group("/collections/users")
		{
			users.POST("/auth-with-password", s.authWithPassword)
			users.POST("/records", s.registerUser)

			protected := users.Group("", s.requireAuth())
			protected.GET("/records", s.listUsers)
			protected.GET("/records/:id", s.getUser)
		}

		relations := api.Group("/collections/relations", s.requireAuth())
		{
			relations.GET("/records", s.listRelations)
			relations.POST("/records", s.createRelation)
			relations.GET("/records/:id", s.getRelation)
			relations.PATCH("/records/:id", s.updateRelation)
			relations.DELETE("/records/:id", s.deleteRelation)
		}

		conversations := api.Group("/collections/conversations", s.requireAuth())
		{
			conversations.GET("/records", s.listConversations)
			conversations.POST("/records", s.createConversation)
			conversations.GET("/records/:id", s.getConversation)
			conversations.PATCH("/records/:id", s.updateConversation)
			conversations.DELETE("/records/:id", s.deleteConversation)
		}

		messages := api.Group("/collections/messages", s.requireAuth())
		{
			messages.GET("/records", s.listMessages)
			messages.POST("/records", s.createMessage)
			messages.GET("/records/:id", s.getMessage)
			messages.PATCH("/records/:id", s.updateMessage)
			messages.DELETE("/records/:id", s.deleteMessage)
		}

		api.GET("/realtime", s.requireAuth(), s.realtime)
		api.GET("/files/messages/:id/:filename", s.serveFile)
	}

	return router
}

// requireAuth validates the bearer token and stores the user id on the
// context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing bearer token"})
			return
		}

		userID, err := jwt.VerifyToken(parts[1], s.jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

func authedUser(c *gin.Context) string {
	userID, _ := c.Get("userID")
	id, _ := userID.(string)
	return id
}

// broadcast pushes a record event to realtime subscribers of a
// collection.
func (s *Server) broadcast(collection, action string, record map[string]any) {
	raw, err := json.Marshal(record)
	if err != nil {
		logger.Error("failed to marshal record for broadcast", "collection", collection, "error", err)
		return
	}
	s.hub.Broadcast(collection, hub.Event{Action: action, Record: raw})
}

// realtime streams record events for the requested collections over
// SSE until the client goes away.
func (s *Server) realtime(c *gin.Context) {
	collections := strings.Split(c.Query("subscribe"), ",")
	if len(collections) == 0 || collections[0] == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "A 'subscribe' query parameter is required"})
		return
	}

	type tagged struct {
		topic string
		data  []byte
	}
	merged := make(chan tagged, 64)
	ctx := c.Request.Context()

	clients := make(map[string]hub.Client, len(collections))
	for _, topic := range collections {
		topic = strings.TrimSpace(topic)
		client := make(hub.Client, 16)
		s.hub.Subscribe(topic, client)
		clients[topic] = client

		// Nothing drains merged once the consumer is gone, so every
		// send must also watch the request context.
		go func(topic string, client hub.Client) {
			for data := range client {
				select {
				case merged <- tagged{topic: topic, data: data}:
				case <-ctx.Done():
					return
				}
			}
		}(topic, client)
	}
	defer func() {
		for topic, client := range clients {
			s.hub.Unsubscribe(topic, client)
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-merged:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.topic, ev.data)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) serveFile(c *gin.Context) {
	var msg Message
	if err := s.db.First(&msg, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Message not found"})
		return
	}
	if msg.File == "" || msg.File != c.Param("filename") {
		c.JSON(http.StatusNotFound, gin.H{"message": "File not found"})
		return
	}
	// Thumb variants are not generated; the original is served either way.
	c.File(filepath.Join(s.uploadDir, msg.ID+"_"+msg.File))
}

// listParams reads pagination, sort, expand, and the parsed filter from
// a list request.
type listParams struct {
	page    int
	perPage int
	sort    string
	expand  map[string]bool
	filter  string
}

func readListParams(c *gin.Context) listParams {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "30"))
	if perPage < 1 {
		perPage = 30
	}
	if perPage > 500 {
		perPage = 500
	}

	expand := make(map[string]bool)
	for _, field := range strings.Split(c.Query("expand"), ",") {
		if field = strings.TrimSpace(field); field != "" {
			expand[field] = true
		}
	}

	return listParams{
		page:    page,
		perPage: perPage,
		sort:    c.Query("sort"),
		expand:  expand,
		filter:  c.Query("filter"),
	}
}

// orderClause converts a sort key ("-updated", "created") to SQL over
// the allowed columns.
func orderClause(sort string, columns map[string]string) (string, bool) {
	if sort == "" {
		return "", true
	}
	dir := "ASC"
	switch sort[0] {
	case '-':
		dir = "DESC"
		sort = sort[1:]
	case '+':
		sort = sort[1:]
	}
	column, ok := columns[sort]
	if !ok {
		return "", false
	}
	return column + " " + dir, true
}

func listResponse(c *gin.Context, p listParams, total int64, items []map[string]any) {
	if items == nil {
		items = []map[string]any{}
	}
	c.JSON(http.StatusOK, gin.H{
		"page":       p.page,
		"perPage":    p.perPage,
		"totalItems": total,
		"items":      items,
	})
}
