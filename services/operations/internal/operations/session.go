package operations

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

const (
	SessionCookie = "orderflow_session"
	SessionHeader = "X-Session-ID"

	DefaultSessionTTL = 8 * time.Hour
)

var ErrInvalidSession = errors.New("invalid session")

// Session is an operator signed in at a station. Sessions are issued by the
// auth collaborator and pushed here; the station never authenticates.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore keeps live sessions in memory.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Save stores session, filling in its timestamps when missing.
func (s *SessionStore) Save(session *Session) error {
	if session == nil || session.ID == "" || session.Role == "" {
		return ErrInvalidSession
	}

	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = session.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.expired(s.now()) {
		return nil, false
	}
	return session, true
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// HasRole reports whether any live session holds role.
func (s *SessionStore) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, session := range s.sessions {
		if session.Role == role && !session.expired(now) {
			return true
		}
	}
	return false
}

// FromRequest resolves the session named by the request cookie or header.
func (s *SessionStore) FromRequest(r *http.Request) (*Session, bool) {
	id := r.Header.Get(SessionHeader)
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		id = c.Value
	}
	if id == "" {
		return nil, false
	}
	return s.Get(id)
}

// Start runs the expired-session sweep until Stop.
func (s *SessionStore) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.cleanup(loopCtx, s.done)
	return nil
}

func (s *SessionStore) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *SessionStore) cleanup(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *SessionStore) purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for id, session := range s.sessions {
		if session.expired(now) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged
}
