package memory

import (
	"sync"

	"quizlive-service/internal/app"
)

// SessionStore is the in-memory implementation of app.SessionStore,
// sufficient for a single-process deployment.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
	byCode   map[string]string // join code -> session id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
		byCode:   make(map[string]string),
	}
}

func (s *SessionStore) Put(session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
	s.byCode[session.JoinCode()] = session.ID()
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) ByJoinCode(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		delete(s.byCode, session.JoinCode())
		delete(s.sessions, sessionID)
	}
}
