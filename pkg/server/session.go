package server

import (
	"errors"
	"net"
	"sync"

	"github.com/aeolun/roomchat/pkg/database"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var errShuttingDown = errors.New("server is shutting down")

// Session represents one client connection, from accept to teardown.
type Session struct {
	ID        string
	Transport string
	Conn      *SafeConn
	log       zerolog.Logger

	mu   sync.RWMutex // Protects user
	user *database.User
}

// User returns the authenticated user, or nil while the handshake runs.
func (s *Session) User() *database.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) setUser(user database.User) {
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.log = s.log.With().Str("user", user.Name).Logger()
}

// SessionManager tracks every live connection so shutdown can close them and
// wait for their teardown to finish.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	metrics  *Metrics
}

// NewSessionManager creates a new session manager
func NewSessionManager(metrics *Metrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// CreateSession registers a new connection. It fails once CloseAll has run.
func (sm *SessionManager) CreateSession(conn net.Conn, transport string, maxLine int) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, errShuttingDown
	}

	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		Transport: transport,
		Conn:      NewSafeConn(conn, maxLine),
		log: errorLog.With().
			Str("conn", id).
			Str("transport", transport).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	sm.sessions[id] = sess
	sm.wg.Add(1)
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[id]
	return sess, ok
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return lo.Values(sm.sessions)
}

// RemoveSession forgets a session. Call it exactly once per CreateSession,
// after teardown has finished.
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.Lock()
	_, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		sm.RefreshMetrics()
		sm.wg.Done()
	}
}

// CountAuthenticated returns the number of sessions past the handshake.
func (sm *SessionManager) CountAuthenticated() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return lo.CountBy(lo.Values(sm.sessions), func(sess *Session) bool {
		return sess.User() != nil
	})
}

// RefreshMetrics publishes the authenticated session count.
func (sm *SessionManager) RefreshMetrics() {
	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sm.CountAuthenticated())
	}
}

// CloseAll closes every connection, refuses new ones and waits until every
// session has finished its teardown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sm.closed = true
	for _, sess := range sm.sessions {
		sess.Conn.Close()
	}
	sm.mu.Unlock()

	sm.wg.Wait()
}

// runSession drives one connection: handshake, then the command loop, then
// teardown of everything the user owned.
func (s *Server) runSession(sess *Session) {
	user, err := s.handshake(sess)
	if err != nil {
		debugLog.Debug().Str("conn", sess.ID).Err(err).Msg("connection ended during handshake")
		return
	}

	sess.setUser(user)
	s.sessions.RefreshMetrics()
	sess.log.Info().Msg("user connected")

	defer func() {
		if err := s.app.Rooms.Teardown(user.ID); err != nil {
			sess.log.Error().Err(err).Msg("teardown failed")
		}
		sess.log.Info().Msg("user disconnected")
	}()

	if err := s.commandLoop(sess, user); err != nil {
		debugLog.Debug().Str("conn", sess.ID).Err(err).Msg("session ended")
	}
}

// commandLoop alternates between flushing the mailbox and waiting a bounded
// time for the next command. It returns only on a fatal error.
func (s *Server) commandLoop(sess *Session, user database.User) error {
	for {
		if err := s.deliverMailbox(sess, user); err != nil {
			return err
		}

		line, err := sess.Conn.Receive(s.app.Config.ReadTimeout)
		if err != nil {
			if protocol.KindOf(err) == protocol.KindTimeout {
				continue
			}
			return err
		}

		reply := s.dispatch(sess, user, protocol.Parse(line))
		if reply == "" {
			continue
		}
		if err := sess.Conn.Send(reply); err != nil {
			return err
		}
	}
}

// deliverMailbox sends every pending notice in FIFO order. A drained entry is
// gone even if the write fails.
func (s *Server) deliverMailbox(sess *Session, user database.User) error {
	pending, err := s.app.Rooms.Drain(user.ID)
	if err != nil {
		return err
	}
	for _, body := range pending {
		if err := sess.Conn.Send(body); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		s.app.Metrics.RecordMailboxDelivered(len(pending))
	}
	return nil
}
