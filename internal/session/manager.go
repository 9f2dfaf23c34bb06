package session

import (
	"sync"
	"time"

	"github.com/tilerealm/server/internal/logging"
)

// Manager owns every session, independent of which realm (if any) it is
// bound to. Realms look sessions up by id when broadcasting; the manager
// itself never touches realm or entity state beyond the ids it tracks.
type Manager struct {
	mu             sync.Mutex
	byClientID     map[string]*Session
	dormancyWindow time.Duration
}

func NewManager(dormancyWindow time.Duration) *Manager {
	return &Manager{
		byClientID:     make(map[string]*Session),
		dormancyWindow: dormancyWindow,
	}
}

// Connect assigns or reclaims a session for clientID. A dormant session
// still within its grace window is resumed (Dormant -> Active/Lobby at the
// caller's discretion via Reconnect); otherwise a fresh Lobby session is
// returned.
func (m *Manager) Connect(clientID string) (s *Session, resumed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byClientID[clientID]; ok {
		if existing.State == StateDormant && time.Since(existing.DormantSince) < m.dormancyWindow {
			return existing, true
		}
		if existing.State == StateDormant {
			logging.Info("session: %s dormancy window expired, starting fresh", clientID)
		}
	}

	s = newSession(clientID)
	m.byClientID[clientID] = s
	return s, false
}

// JoinRealm transitions s into Active{realmID}, broadcasting is the
// caller's responsibility (internal/catalog handles the player-count delta).
func (m *Manager) JoinRealm(s *Session, realmID string, entityID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.State = StateActive
	s.RealmID = realmID
	s.EntityID = entityID
}

// LeaveRealm transitions s back to Lobby, clearing realm binding.
func (m *Manager) LeaveRealm(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.State = StateLobby
	s.RealmID = ""
	s.EntityID = 0
}

// Disconnect marks s Dormant, preserving its realm binding and entity id so
// a reconnect within the window can resume cleanly.
func (m *Manager) Disconnect(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.State == StateActive {
		s.State = StateDormant
		s.DormantSince = time.Now()
	} else {
		delete(m.byClientID, s.ClientID)
	}
}

// Reconnect re-attaches transport to a still-dormant session, flipping it
// back to Active without re-sending the realm list.
func (m *Manager) Reconnect(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.State == StateDormant {
		s.State = StateActive
	}
}

// Get returns the session for clientID, if one exists.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byClientID[clientID]
	return s, ok
}

// SweepExpiredDormant removes every dormant session whose grace window has
// elapsed, returning their (clientID, realmID, entityID) so the caller can
// finalize entity removal and player-count broadcasts.
func (m *Manager) SweepExpiredDormant() []ExpiredSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []ExpiredSession
	for id, s := range m.byClientID {
		if s.State == StateDormant && time.Since(s.DormantSince) >= m.dormancyWindow {
			expired = append(expired, ExpiredSession{ClientID: id, RealmID: s.RealmID, EntityID: s.EntityID})
			delete(m.byClientID, id)
		}
	}
	return expired
}

type ExpiredSession struct {
	ClientID string
	RealmID  string
	EntityID uint64
}

// ActiveInRealm returns every session currently Active in realmID.
func (m *Manager) ActiveInRealm(realmID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.byClientID {
		if s.State == StateActive && s.RealmID == realmID {
			out = append(out, s)
		}
	}
	return out
}

// LobbySessions returns every session currently in Lobby state, the
// audience for realm-player-count broadcasts.
func (m *Manager) LobbySessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.byClientID {
		if s.State == StateLobby {
			out = append(out, s)
		}
	}
	return out
}
