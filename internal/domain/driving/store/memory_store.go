package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/drivecast/internal/domain/driving/model"
)

// MemoryStore keeps records in process memory. Used in tests and ephemeral deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	nextEventID int64
	sessions    map[int64]model.Session
	events      map[int64][]model.Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]model.Session),
		events:   make(map[int64][]model.Event),
	}
}

func cloneSession(s model.Session) model.Session {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	if s.Score != nil {
		v := *s.Score
		s.Score = &v
	}
	return s
}

func (m *MemoryStore) Create(_ context.Context, owner string, startedAt time.Time) (model.Session, error) {
	now := normalizeTime(time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	s := model.Session{
		ID:        m.nextID,
		Owner:     owner,
		StartedAt: normalizeTime(startedAt),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s
	return cloneSession(s), nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Touch(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.UpdatedAt = normalizeTime(at)
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) End(_ context.Context, id int64, upd model.EndUpdate) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	ended := normalizeTime(upd.EndedAt)
	s.EndedAt = &ended
	s.DurationSeconds = upd.DurationSeconds
	s.Score = upd.Score
	s.ArtifactKey = upd.ArtifactKey
	s.UpdatedAt = normalizeTime(time.Now())
	m.sessions[id] = s
	return cloneSession(s), nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, ev model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[ev.SessionID]; !ok {
		return model.Event{}, ErrNotFound
	}
	m.nextEventID++
	ev = withDefaultSeverity(ev)
	ev.ID = m.nextEventID
	m.events[ev.SessionID] = append(m.events[ev.SessionID], ev)
	return ev, nil
}

func (m *MemoryStore) Events(_ context.Context, id int64) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Event, len(m.events[id]))
	copy(out, m.events[id])
	return out, nil
}

func (m *MemoryStore) ListIdle(_ context.Context, cutoff time.Time) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, s := range m.sessions {
		if !s.Ended() && s.UpdatedAt.Before(cutoff) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
