package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AngelCh415/admob-dash/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleLoad is returned when a newer load for the same session started
	// before this one finished.
	ErrStaleLoad = errors.New("stale load superseded by a newer request")
)

// Snapshot is the result of one load: the normalised rows and what was
// derived from them.
type Snapshot struct {
	Generation uint64                    `json:"generation"`
	Range      models.DateRange          `json:"range"`
	Account    string                    `json:"account,omitempty"`
	Records    []models.NormalizedRecord `json:"-"`
	Aggregates models.Aggregates         `json:"-"`
	Series     []models.SeriesPoint      `json:"-"`
	Skipped    int                       `json:"skipped"`
	FetchedAt  time.Time                 `json:"fetchedAt"`
	Err        string                    `json:"error,omitempty"`
}

type session struct {
	view     models.ViewState
	snap     *Snapshot
	gen      uint64
	cancel   context.CancelFunc
	loading  bool
	lastSeen time.Time
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Ensure creates the session with the default view state if it is new.
// Reports whether it was created.
func (s *MemoryStore) Ensure(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[id]; ok {
		ss.lastSeen = s.now()
		return false
	}
	s.sessions[id] = &session{view: models.DefaultViewState(), lastSeen: s.now()}
	return true
}

// BeginLoad starts a new load generation for the session and cancels the
// context of the one in flight, if any. The returned context must be used for
// the load's upstream calls.
func (s *MemoryStore) BeginLoad(parent context.Context, id string) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		ss = &session{view: models.DefaultViewState()}
		s.sessions[id] = ss
	}
	if ss.cancel != nil {
		ss.cancel()
	}
	ss.gen++
	ss.cancel = cancel
	ss.loading = true
	ss.lastSeen = s.now()
	return ctx, ss.gen
}

// Commit stores snap if gen is still the session's current generation. The
// page is reset because the underlying rows changed.
func (s *MemoryStore) Commit(id string, gen uint64, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if ss.gen != gen {
		return ErrStaleLoad
	}
	snap.Generation = gen
	ss.snap = &snap
	ss.loading = false
	if ss.cancel != nil {
		ss.cancel()
		ss.cancel = nil
	}
	ss.view.Page = 1
	return nil
}

func (s *MemoryStore) Snapshot(id string) (*Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[id]
	if !ok {
		return nil, false, ErrSessionNotFound
	}
	return ss.snap, ss.loading, nil
}

func (s *MemoryStore) View(id string) (models.ViewState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[id]
	if !ok {
		return models.ViewState{}, ErrSessionNotFound
	}
	return ss.view, nil
}

// UpdateView applies fn to the session's view state atomically. fn receives
// the current rows so transitions that need a page count can clamp.
func (s *MemoryStore) UpdateView(id string, fn func(models.ViewState, []models.NormalizedRecord) (models.ViewState, error)) (models.ViewState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return models.ViewState{}, ErrSessionNotFound
	}
	var recs []models.NormalizedRecord
	if ss.snap != nil {
		recs = ss.snap.Records
	}
	next, err := fn(ss.view, recs)
	if err != nil {
		return ss.view, err
	}
	ss.view = next
	ss.lastSeen = s.now()
	return next, nil
}

// Evict drops sessions idle for longer than ttl and returns how many.
func (s *MemoryStore) Evict(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for id, ss := range s.sessions {
		if ss.lastSeen.Before(cutoff) && !ss.loading {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
