package memory

import (
	"context"
	"sync"
	"time"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
)

// MemorySessionRegistry keeps sessions and process handles in one map pair
// under a single lock. State is scoped to the running instance; nothing is
// persisted. The registry owns its session records: Put stores a private
// copy and Get/List return snapshots, so Touch never mutates memory a
// caller is reading.
type MemorySessionRegistry struct {
	sessions map[domain.DeviceID]*domain.Session
	handles  map[domain.DeviceID]ports.ProcessHandle
	mu       sync.RWMutex
}

func NewMemorySessionRegistry() ports.SessionRegistry {
	return &MemorySessionRegistry{
		sessions: make(map[domain.DeviceID]*domain.Session),
		handles:  make(map[domain.DeviceID]ports.ProcessHandle),
	}
}

func (r *MemorySessionRegistry) Put(ctx context.Context, session *domain.Session, handle ports.ProcessHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.DeviceID]; exists {
		return domain.ErrSessionExists
	}

	stored := *session
	r.sessions[session.DeviceID] = &stored
	r.handles[session.DeviceID] = handle
	return nil
}

func (r *MemorySessionRegistry) Get(ctx context.Context, deviceID domain.DeviceID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[deviceID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	snapshot := *session
	return &snapshot, nil
}

func (r *MemorySessionRegistry) GetHandle(ctx context.Context, deviceID domain.DeviceID) (ports.ProcessHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, exists := r.handles[deviceID]
	if !exists {
		return nil, domain.ErrProcessNotAvailable
	}

	return handle, nil
}

func (r *MemorySessionRegistry) Has(ctx context.Context, deviceID domain.DeviceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.sessions[deviceID]
	return exists
}

// Remove drops the session and its handle together. Removing an unknown
// device is not an error: process-exit handlers and explicit stops race for
// the same cleanup.
func (r *MemorySessionRegistry) Remove(ctx context.Context, deviceID domain.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, deviceID)
	delete(r.handles, deviceID)
	return nil
}

func (r *MemorySessionRegistry) List(ctx context.Context) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot := *session
		sessions = append(sessions, &snapshot)
	}

	return sessions
}

func (r *MemorySessionRegistry) Touch(ctx context.Context, deviceID domain.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[deviceID]
	if !exists {
		return domain.ErrSessionNotFound
	}

	session.LastActiveAt = time.Now()
	return nil
}
