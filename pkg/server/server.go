package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aeolun/roomchat/pkg/crypto"
	"github.com/aeolun/roomchat/pkg/database"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/aeolun/roomchat/pkg/rooms"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errorLog = zerolog.New(os.Stderr).With().Timestamp().Logger()
	debugLog = zerolog.Nop()
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int      // 0 picks a free port
	WebsocketAddr  string   // "" disables the websocket listener
	AllowedOrigins []string // browser origins allowed to open /ws; empty allows any
	SSHAddr        string   // "" disables the SSH listener
	SSHHostKeyPath string   // "" uses an ephemeral host key
	MetricsAddr    string   // "" disables /metrics and /health
	KeyPath        string   // "" uses an ephemeral X25519 key
	DatabasePath   string   // "" keeps the store in memory
	ReadTimeout    time.Duration
	MaxLineBytes   int
	LogLevel       string
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8888,
		ReadTimeout:  500 * time.Millisecond,
		MaxLineBytes: protocol.DefaultMaxLineSize,
		LogLevel:     "info",
	}
}

// ConfigureLogging replaces the package loggers with console loggers at the
// given level. Call it once, before starting any server.
func ConfigureLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	base := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()

	errorLog = base
	debugLog = zerolog.Nop()
	if lvl <= zerolog.DebugLevel {
		debugLog = base
	}
	return nil
}

// App is the context every session shares. It is built once by NewServer
// and never mutated afterwards.
type App struct {
	Config  ServerConfig
	Store   database.Store
	Rooms   *rooms.Service
	Keys    *crypto.X25519KeyPair
	Metrics *Metrics
}

// Server represents the roomchat server
type Server struct {
	app       *App
	sessions  *SessionManager
	startTime time.Time

	listener        net.Listener
	sshListener     net.Listener
	wsListener      net.Listener
	metricsListener net.Listener
	wsServer        *http.Server
	upgrader        *websocket.Upgrader
	metricsServer   *http.Server

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer opens the store and loads the server key. Nothing listens until
// Start is called.
func NewServer(config ServerConfig) (*Server, error) {
	var store database.Store
	if config.DatabasePath == "" {
		store = database.NewMemDB()
	} else {
		db, err := database.Open(config.DatabasePath)
		if err != nil {
			return nil, err
		}
		store = db
	}

	keys, created, err := crypto.LoadOrGenerateKeyPair(config.KeyPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load server key: %w", err)
	}
	if created && config.KeyPath != "" {
		errorLog.Info().Str("path", config.KeyPath).Msg("generated new server key")
	}

	metrics := NewMetrics()
	app := &App{
		Config:  config,
		Store:   store,
		Rooms:   rooms.NewService(store),
		Keys:    keys,
		Metrics: metrics,
	}

	return &Server{
		app:       app,
		sessions:  NewSessionManager(metrics),
		startTime: time.Now(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start opens every configured listener and begins accepting connections.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.app.Config.Host, strconv.Itoa(s.app.Config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	errorLog.Info().Str("addr", listener.Addr().String()).Msg("TCP server listening")

	if err := s.startWebsocketServer(); err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to start websocket server: %w", err)
	}
	if err := s.startSSHServer(); err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully stops the server: listeners close first, then every live
// connection (running its teardown), then the store.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		errorLog.Info().Msg("graceful shutdown initiated")
		close(s.shutdown)
		s.closeListeners()

		s.sessions.CloseAll()
		s.wg.Wait()

		if err = s.app.Store.Close(); err != nil {
			errorLog.Error().Err(err).Msg("error during store close")
			return
		}
		errorLog.Info().Msg("graceful shutdown complete")
	})
	return err
}

func (s *Server) closeListeners() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.sshListener != nil {
		s.sshListener.Close()
	}
	if s.wsServer != nil {
		s.wsServer.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}
}

// Addr returns the bound TCP address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// WebsocketAddr returns the bound websocket address, or nil when disabled.
func (s *Server) WebsocketAddr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// SSHAddr returns the bound SSH address, or nil when disabled.
func (s *Server) SSHAddr() net.Addr {
	if s.sshListener == nil {
		return nil
	}
	return s.sshListener.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// PublicKey returns the base64 X25519 key announced in CHAVE_PUBLICA.
func (s *Server) PublicKey() string {
	return s.app.Keys.PublicKeyString()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Warn().Err(err).Msg("accept error")
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		go s.serveConn(conn, "tcp")
	}
}

// serveConn runs one connection to completion. It is shared by every
// transport and blocks until the connection ends.
func (s *Server) serveConn(conn net.Conn, transport string) {
	s.app.Metrics.RecordConnection(transport)

	sess, err := s.sessions.CreateSession(conn, transport, s.app.Config.MaxLineBytes)
	if err != nil {
		conn.Close()
		return
	}
	defer s.sessions.RemoveSession(sess.ID)
	defer sess.Conn.Close()

	debugLog.Debug().Str("conn", sess.ID).Str("transport", transport).
		Str("remote", conn.RemoteAddr().String()).Msg("new connection")

	s.runSession(sess)
}

// newHTTPServer wraps mux with panic recovery.
func newHTTPServer(handler http.Handler) *http.Server {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)
	return &http.Server{
		Handler:           recovery(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// recoveryLogger routes recovered handler panics to the error log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	errorLog.Error().Msg(fmt.Sprint(v...))
}

// startMetricsServer serves /metrics and /health. Internal only.
func (s *Server) startMetricsServer() error {
	if s.app.Config.MetricsAddr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.app.Config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.app.Config.MetricsAddr, err)
	}
	s.metricsListener = listener

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.app.Metrics.Handler())
	mux.HandleFunc("GET /health", s.HealthHandler)
	s.metricsServer = newHTTPServer(mux)

	errorLog.Info().Str("addr", listener.Addr().String()).Msg("metrics server listening (/metrics, /health)")
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Error().Err(err).Msg("metrics server error")
		}
	}()
	return nil
}
