package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/ocr-panel/internal/panel"
)

// IDGenerator generates unique session IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDv4 session IDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// PanelFactory creates the panel for a new session
type PanelFactory func() *panel.Panel

type session struct {
	panel    *panel.Panel
	lastSeen time.Time
}

// Sessions maps browser sessions to their panels. Panels idle for longer
// than the TTL are closed and forgotten.
type Sessions struct {
	factory     PanelFactory
	ttl         time.Duration
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	entries map[string]*session
	closed  bool
}

// NewSessions creates a session store with UUID IDs and the wall clock
func NewSessions(factory PanelFactory, ttl time.Duration) *Sessions {
	return NewSessionsWithDeps(factory, ttl, &uuidGenerator{}, &defaultTimeSource{})
}

// NewSessionsWithDeps creates a session store with custom dependencies for testing
func NewSessionsWithDeps(factory PanelFactory, ttl time.Duration, idGen IDGenerator, timeSrc TimeSource) *Sessions {
	return &Sessions{
		factory:     factory,
		ttl:         ttl,
		idGenerator: idGen,
		timeSource:  timeSrc,
		entries:     make(map[string]*session),
	}
}

// Acquire returns the panel for id, creating a new session (with a new ID)
// when id is unknown or expired. ok is false once the store is closed.
func (s *Sessions) Acquire(id string) (sessionID string, p *panel.Panel, ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil, false
	}

	now := s.timeSource.Now()
	expired := s.sweepLocked(now)

	entry, found := s.entries[id]
	if !found {
		id = s.idGenerator.Generate()
		entry = &session{panel: s.factory()}
		s.entries[id] = entry
		slog.Debug("Session created", "session", id)
	}
	entry.lastSeen = now
	s.mu.Unlock()

	closePanels(expired)
	return id, entry.panel, true
}

// Release closes and forgets a session. It reports whether the session existed.
func (s *Sessions) Release(id string) bool {
	s.mu.Lock()
	entry, found := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !found {
		return false
	}
	entry.panel.Close()
	slog.Debug("Session released", "session", id)
	return true
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close closes every panel and refuses new sessions
func (s *Sessions) Close() {
	s.mu.Lock()
	s.closed = true
	panels := make([]*panel.Panel, 0, len(s.entries))
	for id, entry := range s.entries {
		panels = append(panels, entry.panel)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	closePanels(panels)
}

// Sweep closes and forgets every session idle past the TTL. It returns the
// number of sessions expired.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	expired := s.sweepLocked(s.timeSource.Now())
	s.mu.Unlock()

	closePanels(expired)
	return len(expired)
}

// Run calls Sweep every interval until ctx is done
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("Expired idle sessions", "count", n)
			}
		}
	}
}

// sweepLocked removes expired sessions and returns their panels for closing
func (s *Sessions) sweepLocked(now time.Time) []*panel.Panel {
	if s.ttl <= 0 {
		return nil
	}

	var expired []*panel.Panel
	for id, entry := range s.entries {
		if now.Sub(entry.lastSeen) > s.ttl {
			expired = append(expired, entry.panel)
			delete(s.entries, id)
			slog.Debug("Session expired", "session", id)
		}
	}
	return expired
}

func closePanels(panels []*panel.Panel) {
	for _, p := range panels {
		p.Close()
	}
}
