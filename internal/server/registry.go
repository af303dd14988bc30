package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/browser"
)

var (
	// ErrSessionLimit is returned when the registry already holds its maximum number of sessions.
	ErrSessionLimit = errors.New("browser session limit reached")
	// ErrPageBusy is returned when a browse run is already driving the page.
	ErrPageBusy = errors.New("page is already being browsed")
)

// Session is one browser owned by the server.
type Session struct {
	ID        string
	Browser   browser.Browser
	CreatedAt time.Time

	mu      sync.Mutex
	running map[string]bool
}

// acquire marks a page as driven by a browse run. The returned func releases it.
func (s *Session) acquire(pageID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[pageID] {
		return nil, ErrPageBusy
	}
	s.running[pageID] = true
	return func() {
		s.mu.Lock()
		delete(s.running, pageID)
		s.mu.Unlock()
	}, nil
}

// Registry maps session ids to live browsers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	logger   *zap.Logger
}

// NewRegistry creates a registry holding at most max sessions. max < 1 means no limit.
func NewRegistry(max int, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		logger:   logger.Named("registry"),
	}
}

// Full reports whether Add would fail with ErrSessionLimit.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max > 0 && len(r.sessions) >= r.max
}

// Add registers a browser under a new session id.
func (r *Registry) Add(b browser.Browser) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, r.max)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Browser:   b,
		CreatedAt: time.Now().UTC(),
		running:   make(map[string]bool),
	}
	r.sessions[s.ID] = s
	r.logger.Info("Browser session registered.", zap.String("session_id", s.ID), zap.Int("sessions", len(r.sessions)))
	return s, nil
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters a session without closing its browser.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Browser.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.ID, err))
		}
	}
	if len(sessions) > 0 {
		r.logger.Info("Closed browser sessions.", zap.Int("count", len(sessions)))
	}
	return errors.Join(errs...)
}
