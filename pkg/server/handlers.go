package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aeolun/roomchat/pkg/database"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/aeolun/roomchat/pkg/rooms"
)

// dispatch runs one post-handshake command and renders its reply. Business
// rejections become ERRO lines; anything unexpected is logged and answered
// with a generic error so the session survives.
func (s *Server) dispatch(sess *Session, user database.User, cmd protocol.Command) string {
	s.app.Metrics.RecordCommand(cmd.Keyword())

	reply, err := s.handleCommand(user, cmd)
	if err == nil {
		return reply
	}

	s.app.Metrics.RecordCommandError(cmd.Keyword())
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Reply()
	}
	sess.log.Error().Err(err).Str("command", cmd.Keyword()).Msg("command failed")
	return protocol.Erro(protocol.MsgInternal)
}

func (s *Server) handleCommand(user database.User, cmd protocol.Command) (string, error) {
	switch c := cmd.(type) {
	case protocol.ListRooms:
		return s.handleListRooms()
	case protocol.CreateRoom:
		return s.handleCreateRoom(user, c)
	case protocol.JoinRoom:
		return s.handleJoinRoom(user, c)
	case protocol.LeaveRoom:
		return s.handleLeaveRoom(user, c)
	case protocol.CloseRoom:
		return s.handleCloseRoom(user, c)
	case protocol.SendMessage:
		return s.handleSendMessage(user, c)
	case protocol.BanUser:
		return s.handleBanUser(user, c)
	default:
		// Handshake keywords are not valid once authenticated
		return "", protocol.Violation(protocol.MsgUnrecognized)
	}
}

// handleListRooms handles LISTAR_SALAS
func (s *Server) handleListRooms() (string, error) {
	var names []string
	for name, err := range s.app.Rooms.ListRooms() {
		if err != nil {
			return "", err
		}
		names = append(names, name)
	}
	return protocol.RoomsReply(names), nil
}

// handleCreateRoom handles CRIAR_SALA
func (s *Server) handleCreateRoom(user database.User, c protocol.CreateRoom) (string, error) {
	err := s.app.Rooms.CreateRoom(user, rooms.CreateRoomRequest{
		Room:     c.Room,
		Private:  c.Private,
		Password: c.Password,
	})
	if err != nil {
		return "", err
	}
	return protocol.ReplyCreated, nil
}

// handleJoinRoom handles ENTRAR_SALA
func (s *Server) handleJoinRoom(user database.User, c protocol.JoinRoom) (string, error) {
	members, err := s.app.Rooms.JoinRoom(user, c.Room, c.Password)
	if err != nil {
		return "", err
	}
	return protocol.JoinedReply(members), nil
}

// handleLeaveRoom handles SAIR_SALA
func (s *Server) handleLeaveRoom(user database.User, c protocol.LeaveRoom) (string, error) {
	if err := s.app.Rooms.LeaveRoom(user, c.Room); err != nil {
		return "", err
	}
	return protocol.ReplyLeft, nil
}

// handleCloseRoom handles FECHAR_SALA
func (s *Server) handleCloseRoom(user database.User, c protocol.CloseRoom) (string, error) {
	if err := s.app.Rooms.CloseRoom(user, c.Room); err != nil {
		return "", err
	}
	return protocol.ReplyClosed, nil
}

// handleSendMessage handles ENVIAR_MENSAGEM. Success has no direct reply.
func (s *Server) handleSendMessage(user database.User, c protocol.SendMessage) (string, error) {
	return "", s.app.Rooms.SendMessage(user, c.Room, c.Text)
}

// handleBanUser handles BANIR_USUARIO
func (s *Server) handleBanUser(user database.User, c protocol.BanUser) (string, error) {
	if err := s.app.Rooms.BanUser(user, c.Room, c.User); err != nil {
		return "", err
	}
	return protocol.ReplyBanned, nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	Authenticated int    `json:"authenticated"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler reports liveness and connection counts as JSON.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Sessions:      len(s.sessions.GetAllSessions()),
		Authenticated: s.sessions.CountAuthenticated(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		errorLog.Warn().Err(err).Msg("failed to write health response")
	}
}
