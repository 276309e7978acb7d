package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/moneeroz/pocket-chat/internal/hub"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

// realtimeCollections are the collections the event stream covers.
var realtimeCollections = []string{
	models.CollectionRelations,
	models.CollectionConversations,
	models.CollectionMessages,
}

// HTTP talks to a records backend over its REST API and dispatches the
// SSE event stream to subscribers through a hub.
type HTTP struct {
	base  string
	hc    *http.Client
	hub   *hub.Hub
	token string

	mu       sync.Mutex
	rtCancel context.CancelFunc
}

// NewHTTP creates a client for the backend at base (e.g.
// "http://localhost:8090").
func NewHTTP(base string) *HTTP {
	return &HTTP{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{},
		hub:  hub.New(),
	}
}

// SetToken installs a previously issued auth token, e.g. one restored
// from configuration.
func (c *HTTP) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current auth token.
func (c *HTTP) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *HTTP) Authenticate(ctx context.Context, identity, password string) (*models.User, string, error) {
	body, err := json.Marshal(map[string]string{
		"identity": identity,
		"password": password,
	})
	if err != nil {
		return nil, "", err
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/collections/users/auth-with-password", nil, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}

	var out struct {
		Token  string      `json:"token"`
		Record models.User `json:"record"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, "", apperr.Wrap(err, apperr.CodeTransport, "malformed auth response")
	}

	c.SetToken(out.Token)
	return &out.Record, out.Token, nil
}

func (c *HTTP) List(ctx context.Context, collection string, q Query) (*ListResult, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("perPage", strconv.Itoa(q.PerPage))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if !q.Filter.IsZero() {
		params.Set("filter", q.Filter.String())
	}
	if len(q.Expand) > 0 {
		params.Set("expand", strings.Join(q.Expand, ","))
	}

	raw, err := c.do(ctx, http.MethodGet, "/api/collections/"+collection+"/records", params, "", nil)
	if err != nil {
		return nil, err
	}

	var res ListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransport, "malformed list response")
	}
	return &res, nil
}

func (c *HTTP) GetOne(ctx context.Context, collection, id string, expand ...string) (json.RawMessage, error) {
	params := url.Values{}
	if len(expand) > 0 {
		params.Set("expand", strings.Join(expand, ","))
	}
	return c.do(ctx, http.MethodGet, "/api/collections/"+collection+"/records/"+id, params, "", nil)
}

func (c *HTTP) Create(ctx context.Context, collection string, fields map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/api/collections/"+collection+"/records", nil, "application/json", bytes.NewReader(body))
}

func (c *HTTP) CreateFile(ctx context.Context, collection string, fields map[string]any, file *FileUpload) (json.RawMessage, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(form, fields, file)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	return c.do(ctx, http.MethodPost, "/api/collections/"+collection+"/records", nil, form.FormDataContentType(), pr)
}

func writeMultipart(form *multipart.Writer, fields map[string]any, file *FileUpload) error {
	for key, value := range fields {
		switch v := value.(type) {
		case []string:
			for _, item := range v {
				if err := form.WriteField(key, item); err != nil {
					return err
				}
			}
		default:
			if err := form.WriteField(key, fmt.Sprint(v)); err != nil {
				return err
			}
		}
	}

	part, err := form.CreateFormFile("file", file.Name)
	if err != nil {
		return err
	}
	src := io.Reader(file.Reader)
	if file.OnProgress != nil && file.Size > 0 {
		src = &progressReader{r: file.Reader, total: file.Size, onProgress: file.OnProgress}
	}
	_, err = io.Copy(part, src)
	return err
}

func (c *HTTP) Update(ctx context.Context, collection, id string, fields map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPatch, "/api/collections/"+collection+"/records/"+id, nil, "application/json", bytes.NewReader(body))
}

func (c *HTTP) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/collections/"+collection+"/records/"+id, nil, "", nil)
	return err
}

func (c *HTTP) FileURL(collection, recordID, filename, thumb string) string {
	u := c.base + "/api/files/" + collection + "/" + recordID + "/" + url.PathEscape(filename)
	if thumb != "" {
		u += "?thumb=" + url.QueryEscape(thumb)
	}
	return u
}

// Subscribe registers a handler for a collection's events. The first
// subscription starts the realtime stream; it stays up until Close.
func (c *HTTP) Subscribe(collection string, handler func(Event)) (UnsubscribeFunc, error) {
	c.ensureRealtime()

	ch := make(hub.Client, 64)
	c.hub.Subscribe(collection, ch)

	go func() {
		for msg := range ch {
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				logger.Warn("dropping malformed realtime event", "collection", collection, "error", err)
				continue
			}
			handler(ev)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.hub.Unsubscribe(collection, ch)
		})
	}
	return unsubscribe, nil
}

// Close stops the realtime stream.
func (c *HTTP) Close() {
	c.mu.Lock()
	cancel := c.rtCancel
	c.rtCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *HTTP) ensureRealtime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.rtCancel = cancel
	go c.realtimeLoop(ctx)
}

// realtimeLoop keeps the SSE stream connected and feeds events into the
// hub keyed by collection.
func (c *HTTP) realtimeLoop(ctx context.Context) {
	for {
		if err := c.streamEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("realtime stream disconnected, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (c *HTTP) streamEvents(ctx context.Context) error {
	endpoint := c.base + "/api/realtime?subscribe=" + strings.Join(realtimeCollections, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("realtime endpoint returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventName string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" && data.Len() > 0 {
				c.hub.BroadcastRaw(eventName, append([]byte(nil), data.Bytes()...))
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// do executes a request and maps error statuses onto the core's error
// kinds.
func (c *HTTP) do(ctx context.Context, method, path string, params url.Values, contentType string, body io.Reader) (json.RawMessage, error) {
	endpoint := c.base + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, apperr.Wrap(pkgerrors.Wrapf(err, "%s %s", method, path), apperr.CodeTransport, "backend request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransport, "reading backend response")
	}

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, method, path, raw)
	}
	return raw, nil
}

func statusError(status int, method, path string, raw []byte) error {
	message := fmt.Sprintf("backend returned %d for %s %s", status, method, path)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}

	cause := pkgerrors.Errorf("%s %s: status %d", method, path, status)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Wrap(cause, apperr.CodeNotAuthenticated, message)
	case http.StatusNotFound:
		return apperr.Wrap(cause, apperr.CodeNotFound, message)
	case http.StatusConflict:
		return apperr.Wrap(cause, apperr.CodeInvalidState, message)
	default:
		return apperr.Wrap(cause, apperr.CodeTransport, message)
	}
}

// progressReader reports integer percent progress while a file body
// streams.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.onProgress(percent)
		}
	}
	return n, err
}
