package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultHistoryLimit = 256

// Observer receives registry lifecycle hooks.
type Observer interface {
	SessionCreated()
	SessionRegistered()
	SessionRemoved()
}

type nopObserver struct{}

func (nopObserver) SessionCreated()    {}
func (nopObserver) SessionRegistered() {}
func (nopObserver) SessionRemoved()    {}

type Options struct {
	// HistoryLimit bounds the per-session event history.
	HistoryLimit int
	// NewID overrides the identifier generator; defaults to random UUIDv4.
	NewID    func() string
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Registry maps session identifiers to open sessions. Sessions become visible
// to Lookup only after they are activated and disappear once closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	historyLimit int
	newID        func() string
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		sessions:     make(map[string]*Session),
		historyLimit: opts.HistoryLimit,
		newID:        opts.NewID,
		observer:     opts.Observer,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if r.historyLimit <= 0 {
		r.historyLimit = DefaultHistoryLimit
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch(r.now())
	return s, true
}

// Create returns a fresh initializing session. It is registered when it
// activates and removed when it closes.
func (r *Registry) Create() *Session {
	s := newSession(r.newID(), r.historyLimit, r.now())
	s.OnActivate(r.register)
	s.OnClose(func(closed *Session) {
		r.Remove(closed.ID())
	})
	r.observer.SessionCreated()
	r.logger.Debug("session created", "session_id", s.ID())
	return s
}

func (r *Registry) register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	r.observer.SessionRegistered()
	r.logger.Info("session initialized", "session_id", s.ID())
}

// Remove is a no-op for unknown identifiers.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.observer.SessionRemoved()
	r.logger.Info("session cleaned up", "session_id", id, "age_ms", r.now().Sub(s.CreatedAt()).Milliseconds())
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.RUnlock()
	for _, s := range open {
		s.Close()
	}
}
