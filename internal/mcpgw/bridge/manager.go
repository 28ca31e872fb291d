package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"boxcraft.dev/internal/protocol"
)

type Config struct {
	WorldWSURL  string
	StateFile   string
	MaxSessions int
	// Validator checks outgoing ACTs before they reach the server. Optional.
	Validator *protocol.Validator
}

// Manager owns one world connection per session key.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	state    map[string]persistedSession

	closed bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.WorldWSURL == "" {
		return nil, fmt.Errorf("empty world ws url")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	st, err := loadStateFile(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		sessions: map[string]*Session{},
		state:    st,
	}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (m *Manager) GetStatus(_ context.Context, sessionKey string) (Status, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

func (m *Manager) GetObs(ctx context.Context, sessionKey string, opts GetObsOpts) (ObsResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return ObsResult{}, err
	}
	return s.GetObs(ctx, opts)
}

func (m *Manager) Act(ctx context.Context, sessionKey string, args ActArgs) (ActResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return ActResult{}, err
	}
	return s.Act(ctx, args)
}

// Disconnect closes and forgets the session; the next call reconnects as a new agent.
func (m *Manager) Disconnect(_ context.Context, sessionKey string) error {
	if sessionKey == "" {
		sessionKey = "default"
	}
	m.mu.Lock()
	s := m.sessions[sessionKey]
	delete(m.sessions, sessionKey)
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
	return nil
}

func (m *Manager) getOrCreateSession(key string) (*Session, error) {
	if key == "" {
		key = "default"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("bridge manager closed")
	}
	if s := m.sessions[key]; s != nil {
		return s, nil
	}

	// Evict the least recently used session.
	if len(m.sessions) >= m.cfg.MaxSessions {
		var oldestKey string
		var oldest time.Time
		for k, s := range m.sessions {
			t := s.LastUsedAt()
			if oldestKey == "" || t.Before(oldest) {
				oldestKey = k
				oldest = t
			}
		}
		if oldestKey != "" {
			go m.sessions[oldestKey].Close()
			delete(m.sessions, oldestKey)
		}
	}

	s := NewSession(SessionConfig{
		Key:        key,
		WorldWSURL: m.cfg.WorldWSURL,
		Validator:  m.cfg.Validator,
	}, m.onWelcome)
	m.sessions[key] = s
	s.Start()
	return s, nil
}

func (m *Manager) onWelcome(key string, w protocol.WelcomeMsg, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	ps := m.state[key]
	ps.AgentID = w.AgentID
	ps.WorldID = w.WorldID
	ps.LastConnectedAt = at.UTC().Format(time.RFC3339Nano)
	ps.Connects++
	m.state[key] = ps

	// Updates are rare (WELCOME only), so the whole file is rewritten.
	b, _ := json.MarshalIndent(m.state, "", "  ")
	_ = writeFileAtomic(m.cfg.StateFile, append(b, '\n'))
}
