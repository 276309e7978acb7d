// Package session holds the identity of the locally authenticated user.
// It is the leaf dependency of the stores: each one scopes its queries
// by the session's user ID and starts its initial fetch on the ready
// signal.
package session

import (
	"sync"

	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/jwt"
)

type Session struct {
	mu     sync.Mutex
	user   *models.User
	userID string
	token  string

	readyOnce sync.Once
	ready     chan struct{}
}

func New() *Session {
	return &Session{ready: make(chan struct{})}
}

// SetIdentity installs the authenticated user, e.g. after a login round
// trip. The ready signal fires on the first call and never again.
func (s *Session) SetIdentity(user *models.User, token string) {
	s.mu.Lock()
	s.user = user
	s.userID = user.ID
	s.token = token
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// Restore installs identity from a previously issued token, without a
// user record. The subject claim is read unverified; the backend
// re-validates the token on every call.
func (s *Session) Restore(token string) error {
	userID, err := jwt.PeekUserID(token)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeNotAuthenticated, "stored token is not usable")
	}

	s.mu.Lock()
	s.userID = userID
	s.token = token
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// Ready returns a channel closed exactly once, when identity first
// becomes available.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) Authenticated() bool {
	return s.UserID() != ""
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
