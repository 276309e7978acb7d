package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
)

// refTargets maps reference fields to the collection they point at, for
// expansion.
var refTargets = map[string]string{
	"from_user":    models.CollectionUsers,
	"to_user":      models.CollectionUsers,
	"user":         models.CollectionUsers,
	"participants": models.CollectionUsers,
}

// Memory is an in-process Client used by tests. It evaluates the same
// structured filters as the HTTP client and delivers subscription
// events synchronously on the mutating call's goroutine, which makes
// reconciliation paths deterministic to test. Events carry no expand
// data, matching the realtime wire.
type Memory struct {
	mu      sync.Mutex
	seq     int
	records map[string]map[string]map[string]any
	order   map[string][]string

	subMu sync.Mutex
	subID int
	subs  map[string]map[int]func(Event)
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string]map[string]any),
		order:   make(map[string][]string),
		subs:    make(map[string]map[int]func(Event)),
	}
}

var memoryEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// nextStamp returns a strictly increasing timestamp in the record wire
// format. Callers must hold mu.
func (m *Memory) nextStamp() string {
	m.seq++
	return memoryEpoch.Add(time.Duration(m.seq) * time.Millisecond).Format(models.TimeLayout)
}

func (m *Memory) Authenticate(_ context.Context, identity, password string) (*models.User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records[models.CollectionUsers] {
		if asString(rec["username"]) != identity {
			continue
		}
		if pw, ok := rec["password"]; ok && asString(pw) != password {
			return nil, "", apperr.New(apperr.CodeNotAuthenticated, "invalid credentials")
		}
		var user models.User
		if err := remarshal(rec, &user); err != nil {
			return nil, "", err
		}
		return &user, "memtoken-" + user.ID, nil
	}
	return nil, "", apperr.New(apperr.CodeNotAuthenticated, "invalid credentials")
}

func (m *Memory) List(_ context.Context, collection string, q Query) (*ListResult, error) {
	m.mu.Lock()

	var matched []map[string]any
	for _, id := range m.order[collection] {
		rec := m.records[collection][id]
		if matchFilter(rec, q.Filter) {
			matched = append(matched, m.withExpand(rec, q.Expand))
		}
	}
	m.mu.Unlock()

	if q.Sort != "" {
		field := q.Sort
		desc := false
		switch field[0] {
		case '-':
			desc = true
			field = field[1:]
		case '+':
			field = field[1:]
		}
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := asString(matched[i][field]), asString(matched[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	page, perPage := q.Page, q.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}
	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	res := &ListResult{Page: page, PerPage: perPage, TotalItems: total}
	for _, rec := range matched[start:end] {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, raw)
	}
	return res, nil
}

func (m *Memory) GetOne(_ context.Context, collection, id string, expand ...string) (json.RawMessage, error) {
	m.mu.Lock()
	rec, ok := m.records[collection][id]
	var out map[string]any
	if ok {
		out = m.withExpand(rec, expand)
	}
	m.mu.Unlock()

	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s/%s not found", collection, id))
	}
	return json.Marshal(out)
}

func (m *Memory) Create(_ context.Context, collection string, fields map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	rec := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		rec[k] = v
	}
	m.seq++
	id := fmt.Sprintf("rec%012d", m.seq)
	stamp := m.nextStamp()
	rec["id"] = id
	rec["created"] = stamp
	rec["updated"] = stamp

	if m.records[collection] == nil {
		m.records[collection] = make(map[string]map[string]any)
	}
	m.records[collection][id] = rec
	m.order[collection] = append(m.order[collection], id)

	raw, err := json.Marshal(rec)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.dispatch(collection, Event{Action: "create", Record: raw})
	return raw, nil
}

func (m *Memory) CreateFile(ctx context.Context, collection string, fields map[string]any, file *FileUpload) (json.RawMessage, error) {
	src := io.Reader(file.Reader)
	if file.OnProgress != nil && file.Size > 0 {
		src = &progressReader{r: file.Reader, total: file.Size, onProgress: file.OnProgress}
	}
	if _, err := io.Copy(io.Discard, src); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransport, "reading upload body")
	}

	withFile := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withFile[k] = v
	}
	withFile["file"] = file.Name
	return m.Create(ctx, collection, withFile)
}

func (m *Memory) Update(_ context.Context, collection, id string, fields map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	rec, ok := m.records[collection][id]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s/%s not found", collection, id))
	}
	for k, v := range fields {
		rec[k] = v
	}
	rec["updated"] = m.nextStamp()

	raw, err := json.Marshal(rec)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.dispatch(collection, Event{Action: "update", Record: raw})
	return raw, nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	rec, ok := m.records[collection][id]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s/%s not found", collection, id))
	}
	delete(m.records[collection], id)
	ids := m.order[collection]
	for i, other := range ids {
		if other == id {
			m.order[collection] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	raw, err := json.Marshal(rec)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.dispatch(collection, Event{Action: "delete", Record: raw})
	return nil
}

func (m *Memory) Subscribe(collection string, handler func(Event)) (UnsubscribeFunc, error) {
	m.subMu.Lock()
	m.subID++
	id := m.subID
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[int]func(Event))
	}
	m.subs[collection][id] = handler
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs[collection], id)
		m.subMu.Unlock()
	}, nil
}

func (m *Memory) FileURL(collection, recordID, filename, thumb string) string {
	u := "memory://" + collection + "/" + recordID + "/" + filename
	if thumb != "" {
		u += "?thumb=" + thumb
	}
	return u
}

func (m *Memory) dispatch(collection string, ev Event) {
	m.subMu.Lock()
	handlers := make([]func(Event), 0, len(m.subs[collection]))
	for _, h := range m.subs[collection] {
		handlers = append(handlers, h)
	}
	m.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// withExpand returns a copy of rec with requested reference fields
// expanded. Callers must hold mu.
func (m *Memory) withExpand(rec map[string]any, expand []string) map[string]any {
	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if len(expand) == 0 {
		return out
	}

	expanded := make(map[string]any)
	for _, field := range expand {
		target, ok := refTargets[field]
		if !ok {
			continue
		}
		switch v := rec[field].(type) {
		case string:
			if ref, ok := m.records[target][v]; ok {
				expanded[field] = ref
			}
		case []string:
			var refs []map[string]any
			for _, id := range v {
				if ref, ok := m.records[target][id]; ok {
					refs = append(refs, ref)
				}
			}
			expanded[field] = refs
		}
	}
	if len(expanded) > 0 {
		out["expand"] = expanded
	}
	return out
}

func matchFilter(rec map[string]any, f Filter) bool {
	for _, c := range f.All {
		if !matchCond(rec, c) {
			return false
		}
	}
	if len(f.Any) > 0 {
		anyMatched := false
		for _, c := range f.Any {
			if matchCond(rec, c) {
				anyMatched = true
				break
			}
		}
		if !anyMatched {
			return false
		}
	}
	return true
}

func matchCond(rec map[string]any, c Cond) bool {
	switch c.Op {
	case OpEqual:
		return asString(rec[c.Field]) == c.Value
	case OpContains:
		switch v := rec[c.Field].(type) {
		case []string:
			for _, item := range v {
				if item == c.Value {
					return true
				}
			}
		case []any:
			for _, item := range v {
				if asString(item) == c.Value {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
