package analysis

import (
	"context"
	"sync"
	"time"
)

// Store keeps per-session view state: the current image, the last result and
// a generation counter used to discard stale responses.
type Store interface {
	// Begin records image as current and returns a new generation, larger
	// than any generation previously handed out by the store.
	Begin(ctx context.Context, sessionID string, image ImageMeta) (uint64, error)
	// Commit stores result only if result.Generation is still the latest.
	Commit(ctx context.Context, sessionID string, result *Analysis) (bool, error)
	// Load returns the session state and extends its lifetime; an unknown
	// session yields an empty state.
	Load(ctx context.Context, sessionID string) (*State, error)
	// Reset clears image and result and invalidates in-flight generations.
	Reset(ctx context.Context, sessionID string) error
}

// State is a snapshot of one session.
type State struct {
	Generation uint64
	Image      *ImageMeta
	Result     *Analysis
}

// MemoryStore is an in-process Store. Sessions idle longer than ttl are dropped.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	next     uint64
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	state   State
	touched time.Time
}

// NewMemoryStore creates an empty store. A zero ttl keeps sessions forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Begin(_ context.Context, sessionID string, image ImageMeta) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	s.next++
	sess.state.Generation = s.next
	img := image
	sess.state.Image = &img
	return sess.state.Generation, nil
}

func (s *MemoryStore) Commit(_ context.Context, sessionID string, result *Analysis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	if result.Generation != sess.state.Generation {
		return false, nil
	}
	sess.state.Result = result.clone()
	return true, nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess) {
		delete(s.sessions, sessionID)
		return &State{}, nil
	}
	sess.touched = s.now()
	out := State{Generation: sess.state.Generation, Result: sess.state.Result.clone()}
	if sess.state.Image != nil {
		img := *sess.state.Image
		out.Image = &img
	}
	return &out, nil
}

func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	s.next++
	sess.state.Generation = s.next
	sess.state.Image = nil
	sess.state.Result = nil
	return nil
}

// session returns the live session, creating or recycling it as needed.
// Generations come from a store-wide counter, so a recycled session can
// never match a request started before it expired. Callers hold s.mu.
func (s *MemoryStore) session(id string) *memorySession {
	sess, ok := s.sessions[id]
	if ok && s.expired(sess) {
		sess.state = State{}
	}
	if !ok {
		sess = &memorySession{}
		s.sessions[id] = sess
	}
	sess.touched = s.now()
	return sess
}

func (s *MemoryStore) expired(sess *memorySession) bool {
	return s.ttl > 0 && s.now().Sub(sess.touched) > s.ttl
}

// Prune drops expired sessions and reports how many were removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
