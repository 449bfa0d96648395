package checkout

import (
	"sync"
	"time"

	"belezapos/backend/internal/xid"
)

const (
	StateBuilding        = "building"
	StateCommitting      = "committing"
	StateCompleted       = "completed"
	StateCancelled       = "cancelled"
	StatePartiallyFailed = "partially_failed"
)

// Session is one terminal's open checkout. All field access goes through
// the session mutex; the engine locks a session for the whole of each
// operation so concurrent requests against the same session serialize.
type Session struct {
	mu sync.Mutex

	ID         string
	TenantID   string
	TerminalID string
	State      string
	Cart       Cart

	// SaleID is assigned on the first finalize attempt and never changes
	// afterwards, which is what makes retries of the same confirmation
	// idempotent instead of double-charging.
	SaleID string

	CreatedAt time.Time
}

// Sessions is the in-process registry of open checkouts. Sessions are
// deliberately not persisted: a crashed server loses open carts but never
// committed sales.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*Session)}
}

func (s *Sessions) Create(tenantID, terminalID string) *Session {
	session := &Session{
		ID:         xid.New("chk"),
		TenantID:   tenantID,
		TerminalID: terminalID,
		State:      StateBuilding,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.byID[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}
