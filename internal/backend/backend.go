// Package backend defines the contract the chat core requires from the
// records backend: filtered list queries, CRUD on named collections,
// per-collection event subscriptions, and file URL resolution. Two
// implementations exist: HTTP speaks the records REST API, Memory backs
// tests.
package backend

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/moneeroz/pocket-chat/internal/models"
)

// Op is a filter condition operator.
type Op string

const (
	// OpEqual matches a field exactly.
	OpEqual Op = "="
	// OpContains matches when a multi-valued field contains the value.
	OpContains Op = "~"
)

// Cond is a single field condition.
type Cond struct {
	Field string
	Op    Op
	Value string
}

// Filter is a conjunction of conditions plus one optional disjunction
// group: (All[0] && All[1] && ...) && (Any[0] || Any[1] || ...).
// A zero Filter matches everything.
type Filter struct {
	All []Cond
	Any []Cond
}

// IsZero reports whether the filter has no conditions.
func (f Filter) IsZero() bool {
	return len(f.All) == 0 && len(f.Any) == 0
}

// String renders the filter in the records filter grammar, e.g.
// (from_user='a' || to_user='a') && kind='friend'.
func (f Filter) String() string {
	var parts []string
	if len(f.Any) > 0 {
		var ors []string
		for _, c := range f.Any {
			ors = append(ors, c.render())
		}
		parts = append(parts, "("+strings.Join(ors, " || ")+")")
	}
	for _, c := range f.All {
		parts = append(parts, c.render())
	}
	return strings.Join(parts, " && ")
}

func (c Cond) render() string {
	return c.Field + string(c.Op) + "'" + strings.ReplaceAll(c.Value, "'", "\\'") + "'"
}

// Query describes a list request.
type Query struct {
	Filter  Filter
	Sort    string // e.g. "-updated", "created"
	Page    int    // 1-based; 0 means first page
	PerPage int    // 0 means backend default
	Expand  []string
}

// ListResult is one page of matching records.
type ListResult struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	Items      []json.RawMessage `json:"items"`
}

// DecodeItems unmarshals raw list items into typed records.
func DecodeItems[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Event is a pushed record event.
type Event struct {
	Action string          `json:"action"` // create | update | delete
	Record json.RawMessage `json:"record"`
}

// UnsubscribeFunc tears down a subscription. Safe to call more than
// once.
type UnsubscribeFunc func()

// FileUpload describes a file attached to a created record.
type FileUpload struct {
	Name   string
	Size   int64
	Reader io.Reader
	// OnProgress, when set, receives integer percent complete (0-100)
	// while the upload body streams.
	OnProgress func(percent int)
}

// Client is the records backend collaborator.
type Client interface {
	// Authenticate verifies credentials and returns the user record and
	// an auth token scoping subsequent calls.
	Authenticate(ctx context.Context, identity, password string) (*models.User, string, error)

	List(ctx context.Context, collection string, q Query) (*ListResult, error)
	GetOne(ctx context.Context, collection, id string, expand ...string) (json.RawMessage, error)
	Create(ctx context.Context, collection string, fields map[string]any) (json.RawMessage, error)
	CreateFile(ctx context.Context, collection string, fields map[string]any, file *FileUpload) (json.RawMessage, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error

	// Subscribe registers a handler for pushed events on a collection.
	Subscribe(collection string, handler func(Event)) (UnsubscribeFunc, error)

	// FileURL resolves a stored file to a fetchable URL. thumb, when
	// non-empty, requests a thumbnail variant (e.g. "100x100").
	FileURL(collection, recordID, filename, thumb string) string
}
