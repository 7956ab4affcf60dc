package session

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

var (
	ErrSessionNotFound = service.ErrSessionNotFound
	ErrSessionExists   = service.ErrSessionExists
)

// CollisionPolicy decides what Create does when the requested id is taken
type CollisionPolicy int

const (
	// OverwriteExisting replaces the existing session with a fresh one.
	OverwriteExisting CollisionPolicy = iota
	// RejectExisting leaves the existing session alone and fails.
	RejectExisting
)

// ParseCollisionPolicy maps "overwrite" and "reject" to a policy
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch s {
	case "", "overwrite":
		return OverwriteExisting, nil
	case "reject":
		return RejectExisting, nil
	}
	return OverwriteExisting, errors.Newf("unknown collision policy %q", s)
}

// Manager is the session registry: session id to session, behind one RWMutex
type Manager struct {
	sessions map[string]*service.Session
	ids      *IDGenerator
	policy   CollisionPolicy
	mu       sync.RWMutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithCollisionPolicy sets how Create treats an id that is already taken
func WithCollisionPolicy(p CollisionPolicy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// NewManager creates a new session registry
func NewManager(ids *IDGenerator, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*service.Session),
		ids:      ids,
		policy:   OverwriteExisting,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts an empty session and returns its id.
// An empty requestedID draws a fresh id from the generator.
func (m *Manager) Create(requestedID string) (string, error) {
	id := requestedID
	if id == "" {
		id = m.ids.Generate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admit(id); err != nil {
		return "", err
	}
	return id, nil
}

// admit stores a new empty session under id. Called with the write lock held.
func (m *Manager) admit(id string) error {
	if _, exists := m.sessions[id]; exists && m.policy == RejectExisting {
		return errors.Wrapf(ErrSessionExists, "session %s", id)
	}
	m.sessions[id] = service.NewSession(id)
	return nil
}

// Upsert runs fn on session id, creating it first when it does not exist.
// It reports whether the session was created.
func (m *Manager) Upsert(id string, fn func(*service.Session) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		sess = service.NewSession(id)
		m.sessions[id] = sess
	}

	err := fn(sess)
	m.reap(sess)
	return !exists, err
}

// Update runs fn on session id under the write lock.
func (m *Manager) Update(id string, fn func(*service.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}

	err := fn(sess)
	m.reap(sess)
	return err
}

// reap drops sess once no member is active
func (m *Manager) reap(sess *service.Session) {
	if sess.HasActiveMember() {
		return
	}
	if current, ok := m.sessions[sess.ID]; ok && current == sess {
		delete(m.sessions, sess.ID)
	}
}

// Get returns a snapshot of session id
func (m *Manager) Get(id string) (service.SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[id]
	if !exists {
		return service.SessionInfo{}, false
	}
	return sess.Info(), true
}

// List returns snapshots of every session
func (m *Manager) List() []service.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.MapToSlice(m.sessions, func(_ string, sess *service.Session) service.SessionInfo {
		return sess.Info()
	})
}

// Remove deletes session id and reports whether it existed
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.sessions[id]
	delete(m.sessions, id)
	return exists
}

// ListIDs returns the ids of sessions with at least one active member,
// in map iteration order.
func (m *Manager) ListIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visible := lo.PickBy(m.sessions, func(_ string, sess *service.Session) bool {
		return sess.HasActiveMember()
	})
	return lo.Keys(visible)
}

// FindByMember returns the session listing clientID as a member that
// clientID joined last. Equal join sequences fall back to the smaller id.
func (m *Manager) FindByMember(clientID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found  string
		latest uint64
		ok     bool
	)
	for id, sess := range m.sessions {
		seq, member := sess.JoinedAt(clientID)
		if !member {
			continue
		}
		if !ok || seq > latest || (seq == latest && id < found) {
			found, latest, ok = id, seq, true
		}
	}
	return found, ok
}

// Count returns the number of sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
