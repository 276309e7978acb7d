package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
)

func TestHTTPAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/collections/users/auth-with-password", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["identity"])
		assert.Equal(t, "secret123", body["password"])

		json.NewEncoder(w).Encode(map[string]any{
			"token":  "tok-abc",
			"record": map[string]any{"id": "u1", "username": "alice"},
		})
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL)
	user, token, err := c.Authenticate(context.Background(), "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, "tok-abc", c.Token())
}

func TestHTTPListBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/collections/relations/records", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "(from_user='me' || to_user='me')", q.Get("filter"))
		assert.Equal(t, "-updated", q.Get("sort"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "50", q.Get("perPage"))
		assert.Equal(t, "from_user,to_user", q.Get("expand"))

		json.NewEncoder(w).Encode(map[string]any{
			"page": 2, "perPage": 50, "totalItems": 1,
			"items": []map[string]any{{"id": "r1", "from_user": "me", "to_user": "x", "kind": "friend"}},
		})
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL)
	c.SetToken("tok")

	res, err := c.List(context.Background(), models.CollectionRelations, Query{
		Filter: Filter{
			Any: []Cond{
				{Field: "from_user", Op: OpEqual, Value: "me"},
				{Field: "to_user", Op: OpEqual, Value: "me"},
			},
		},
		Sort:    "-updated",
		Page:    2,
		PerPage: 50,
		Expand:  []string{"from_user", "to_user"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalItems)

	rels, err := DecodeItems[models.Relation](res.Items)
	require.NoError(t, err)
	assert.Equal(t, "r1", rels[0].ID)
}

func TestHTTPStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, apperr.CodeNotAuthenticated},
		{http.StatusForbidden, apperr.CodeNotAuthenticated},
		{http.StatusNotFound, apperr.CodeNotFound},
		{http.StatusConflict, apperr.CodeInvalidState},
		{http.StatusInternalServerError, apperr.CodeTransport},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
		}))

		c := NewHTTP(srv.URL)
		_, err := c.GetOne(context.Background(), models.CollectionMessages, "m1")
		assert.True(t, apperr.Is(err, tt.code), "status %d should map to %s", tt.status, tt.code)
		assert.Contains(t, err.Error(), "nope")
		srv.Close()
	}
}

func TestHTTPCreateFileStreamsMultipart(t *testing.T) {
	body := strings.Repeat("b", 2048)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "c1", r.FormValue("conversation"))
		assert.Equal(t, "u1", r.FormValue("user"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.pdf", header.Filename)

		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))

		json.NewEncoder(w).Encode(map[string]any{"id": "m1", "file": "notes.pdf", "conversation": "c1"})
	}))
	defer srv.Close()

	var last int
	c := NewHTTP(srv.URL)
	raw, err := c.CreateFile(context.Background(), models.CollectionMessages, map[string]any{
		"conversation": "c1",
		"user":         "u1",
	}, &FileUpload{
		Name:       "notes.pdf",
		Size:       int64(len(body)),
		Reader:     strings.NewReader(body),
		OnProgress: func(p int) { last = p },
	})
	require.NoError(t, err)
	assert.Equal(t, 100, last)

	var msg models.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "m1", msg.ID)
}

func TestHTTPRealtimeDispatch(t *testing.T) {
	stream := "event: messages\n" +
		`data: {"action":"create","record":{"id":"m1","text":"hi","conversation":"c1"}}` + "\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/realtime" {
			http.NotFound(w, r)
			return
		}
		assert.Contains(t, r.URL.Query().Get("subscribe"), models.CollectionMessages)
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		io.WriteString(w, stream)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL)
	defer c.Close()

	got := make(chan Event, 1)
	unsub, err := c.Subscribe(models.CollectionMessages, func(ev Event) {
		select {
		case got <- ev:
		default:
		}
	})
	require.NoError(t, err)
	defer unsub()

	ev := <-got
	assert.Equal(t, "create", ev.Action)

	var msg models.Message
	require.NoError(t, json.Unmarshal(ev.Record, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Text)
}

func TestHTTPFileURL(t *testing.T) {
	c := NewHTTP("http://localhost:8090/")

	assert.Equal(t,
		"http://localhost:8090/api/files/messages/m1/photo.png",
		c.FileURL(models.CollectionMessages, "m1", "photo.png", ""))
	assert.Equal(t,
		"http://localhost:8090/api/files/messages/m1/photo.png?thumb=100x100",
		c.FileURL(models.CollectionMessages, "m1", "photo.png", "100x100"))
}
