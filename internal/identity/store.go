package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// UserStore defines operations for user storage.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	List(ctx context.Context) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// SessionStore defines operations for session storage.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Session, error)
	CountActive(ctx context.Context) (int64, error)
}

// MemoryUserStore is the default in-memory user store. It stores copies so
// callers can only mutate users through Update.
type MemoryUserStore struct {
	mu         sync.RWMutex
	users      map[string]models.User
	byUsername map[string]string
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:      make(map[string]models.User),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return fmt.Errorf("username %q: %w", user.Username, errors.ErrConflict)
	}
	s.users[user.ID] = *user
	s.byUsername[user.Username] = user.ID
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &user, nil
}

func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, errors.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (s *MemoryUserStore) Update(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return errors.ErrNotFound
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		user := u
		out = append(out, &user)
	}
	return out, nil
}

func (s *MemoryUserStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// MemorySessionStore is the in-memory session store with a token index.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	byToken  map[string]string
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]models.Session),
		byToken:  make(map[string]string),
	}
}

func (s *MemorySessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[session.Token]; exists {
		return fmt.Errorf("session token collision: %w", errors.ErrConflict)
	}
	s.sessions[session.ID] = *session
	s.byToken[session.Token] = session.ID
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &session, nil
}

func (s *MemorySessionStore) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, errors.ErrNotFound
	}
	session := s.sessions[id]
	return &session, nil
}

func (s *MemorySessionStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return errors.ErrNotFound
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return errors.ErrNotFound
	}
	delete(s.byToken, session.Token)
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) List(ctx context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		session := sess
		out = append(out, &session)
	}
	return out, nil
}

func (s *MemorySessionStore) CountActive(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sess := range s.sessions {
		if sess.Active {
			n++
		}
	}
	return n, nil
}
