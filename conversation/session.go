package conversation

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSessionNotFound is returned when no session exists for a call.
	ErrSessionNotFound = errors.New("conversation: session not found")

	// ErrSessionClosed is returned when appending to a removed session.
	ErrSessionClosed = errors.New("conversation: session closed")
)

// Session is the transcript of one call.
//
// The mutex serializes whole turns for a call, so duplicate webhook
// deliveries for the same call id are processed one after the other.
type Session struct {
	callID  string
	caller  string
	created time.Time

	updated atomic.Int64
	closed  atomic.Bool

	mu        sync.Mutex
	turns     []Turn
	misses    int
	escalated bool
}

func newSession(callID, caller string, system Turn, now time.Time) *Session {
	s := &Session{
		callID:  callID,
		caller:  caller,
		created: now,
		turns:   []Turn{system},
	}
	s.touch(now)
	return s
}

// CallID returns the telephony call identifier.
func (s *Session) CallID() string {
	return s.callID
}

// Caller returns the caller's phone number.
func (s *Session) Caller() string {
	return s.caller
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// UpdatedAt returns when the session last changed.
func (s *Session) UpdatedAt() time.Time {
	return time.Unix(0, s.updated.Load())
}

// Closed reports whether the session was removed from its store.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Append adds turns atomically.
func (s *Session) Append(now time.Time, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.turns = append(s.turns, turns...)
	s.touch(now)
	return nil
}

// snapshot must be called with mu held.
func (s *Session) snapshot() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) touch(now time.Time) {
	s.updated.Store(now.UnixNano())
}

// Store keeps sessions keyed by call id.
type Store interface {
	// GetOrCreate returns the session for callID, creating it seeded with
	// the system turn when absent.
	GetOrCreate(callID, caller string, system Turn) *Session

	// Get returns the session for callID.
	Get(callID string) (*Session, bool)

	// Append adds turns to an existing session.
	Append(callID string, turns ...Turn) error

	// Delete removes the session and marks it closed.
	Delete(callID string) (*Session, bool)

	// Sweep removes sessions idle for longer than idle and returns them.
	Sweep(idle time.Duration, now time.Time) []*Session

	// Len returns the number of live sessions.
	Len() int
}

// Verify interface compliance at compile time.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithStoreClock sets the clock used for timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the session for callID, creating it when absent.
func (m *MemoryStore) GetOrCreate(callID, caller string, system Turn) *Session {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[callID]; ok {
		return s
	}
	s = newSession(callID, caller, system, m.now())
	m.sessions[callID] = s
	return s
}

// Get returns the session for callID.
func (m *MemoryStore) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Append adds turns to the session for callID.
func (m *MemoryStore) Append(callID string, turns ...Turn) error {
	s, ok := m.Get(callID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Append(m.now(), turns...)
}

// Delete removes the session for callID. It does not take the session
// lock, so it is safe to call while a turn is in progress.
func (m *MemoryStore) Delete(callID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, false
	}
	delete(m.sessions, callID)
	s.closed.Store(true)
	return s, true
}

// Sweep removes sessions idle for longer than idle.
func (m *MemoryStore) Sweep(idle time.Duration, now time.Time) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*Session
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt()) > idle {
			delete(m.sessions, id)
			s.closed.Store(true)
			removed = append(removed, s)
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
