package duckdb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Manager keeps one in-memory database per session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Store
}

func NewManager() *Manager {
	return &Manager{sessions: map[string]*Store{}}
}

// Session returns the session's store, opening it on first use.
func (m *Manager) Session(sessionID string) (*Store, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.sessions[sessionID]; ok {
		return store, nil
	}
	store, err := Open()
	if err != nil {
		return nil, fmt.Errorf("open session %q: %w", sessionID, err)
	}
	m.sessions[sessionID] = store
	return store, nil
}

// Reset closes and forgets the session's database. Unknown sessions are a no-op.
func (m *Manager) Reset(sessionID string) error {
	m.mu.Lock()
	store, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return store.Close()
}

func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Store{}
	m.mu.Unlock()

	var errs []error
	for id, store := range sessions {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
