// Package session holds the operator-supplied access credential.
//
// The credential is short-lived (a daily Dhan access token) and arrives over
// the Telegram arming interface while the scan loop reads it every cycle, so
// all access goes through a single synchronized manager. An absent credential
// is a normal steady state, not an error.
package session

import (
	"sync"
	"time"
)

// Manager is a thread-safe holder for the current access credential.
type Manager struct {
	mu      sync.RWMutex
	token   string
	armedAt time.Time
}

// NewManager returns an unarmed session manager.
func NewManager() *Manager {
	return &Manager{}
}

// Set stores a new credential and marks the session armed.
func (m *Manager) Set(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.armedAt = time.Now()
}

// Get returns the current credential and whether the session is armed.
func (m *Manager) Get() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// Clear drops the stored credential. Safe to call repeatedly.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.armedAt = time.Time{}
}

// ArmedAt reports when the current credential was set; zero when unarmed.
func (m *Manager) ArmedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.armedAt
}
