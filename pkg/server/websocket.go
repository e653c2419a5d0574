package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/aeolun/roomchat/pkg/transport"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
)

const websocketPath = "/ws"

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowed),
	}
}

// originChecker accepts requests without an Origin header (native clients)
// and, when allowed is non-empty, browser requests from those origins only.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}
}

// startWebsocketServer serves the line protocol over WebSocket text frames
// at /ws. Frame boundaries carry no meaning; the payloads form one stream.
func (s *Server) startWebsocketServer() error {
	if s.app.Config.WebsocketAddr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.app.Config.WebsocketAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.app.Config.WebsocketAddr, err)
	}
	s.wsListener = listener

	s.upgrader = newUpgrader(s.app.Config.AllowedOrigins)
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+websocketPath, s.HandleWebSocket)

	origins := s.app.Config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)
	s.wsServer = newHTTPServer(cors(mux))

	errorLog.Info().Str("addr", listener.Addr().String()).Msg("websocket server listening")
	go func() {
		if err := s.wsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Error().Err(err).Msg("websocket server error")
		}
	}()
	return nil
}

// HandleWebSocket upgrades the request and runs a session on it.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		debugLog.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(int64(s.app.Config.MaxLineBytes) + 1)

	s.serveConn(transport.WebSocket(ws), "websocket")
}
