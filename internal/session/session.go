package session

import (
	"errors"
	"sync"
	"time"
)

type State int32

const (
	StateInitializing State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotInitializing = errors.New("session is not initializing")
	ErrClosed          = errors.New("session is closed")
)

// Session is the transport context of one logical client connection.
// It is owned by the Registry that created it.
type Session struct {
	id        string
	createdAt time.Time
	events    *EventLog

	mu              sync.Mutex
	state           State
	lastSeen        time.Time
	protocolVersion string
	logLevel        string
	streamOpen      bool
	onActivate      []func(*Session)
	onClose         []func(*Session)
}

func newSession(id string, historyLimit int, now time.Time) *Session {
	return &Session{
		id:        id,
		createdAt: now,
		lastSeen:  now,
		events:    NewEventLog(historyLimit),
		state:     StateInitializing,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) Events() *EventLog {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) SetProtocolVersion(v string) {
	s.mu.Lock()
	s.protocolVersion = v
	s.mu.Unlock()
}

// LogLevel is the minimum level of server log notifications the client asked
// for. Empty means none were requested.
func (s *Session) LogLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logLevel
}

func (s *Session) SetLogLevel(level string) {
	s.mu.Lock()
	s.logLevel = level
	s.mu.Unlock()
}

// OnActivate registers fn to run once the session becomes active.
func (s *Session) OnActivate(fn func(*Session)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onActivate = append(s.onActivate, fn)
	s.mu.Unlock()
}

// OnClose registers fn to run once when the session closes. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func(*Session)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		fn(s)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Activate marks the transport as established.
func (s *Session) Activate() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateActive:
		s.mu.Unlock()
		return ErrNotInitializing
	}
	s.state = StateActive
	hooks := append([]func(*Session){}, s.onActivate...)
	s.onActivate = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
	return nil
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	hooks := s.onClose
	s.onClose = nil
	s.onActivate = nil
	s.mu.Unlock()

	s.events.Close()
	for _, fn := range hooks {
		fn(s)
	}
}

// AttachStream claims the single standalone server-to-client stream slot.
func (s *Session) AttachStream() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamOpen || s.state != StateActive {
		return nil, false
	}
	s.streamOpen = true
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.streamOpen = false
			s.mu.Unlock()
		})
	}, true
}
