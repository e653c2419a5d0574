package botlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/roomchat/pkg/client"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
)

// MessageHandler is called when a new message is received.
type MessageHandler func(ctx *Context, msg *Message)

// EventHandler is called for membership notices in the bot's rooms.
type EventHandler func(ev Event)

// Config holds the bot configuration.
type Config struct {
	// Server address, as accepted by client.ParseAddress
	Server string

	// Name to register (e.g., "echo_bot")
	Name string

	// Rooms to join and monitor
	Rooms []string

	// CreateMissing creates public rooms that do not exist yet. The bot is
	// then their admin.
	CreateMissing bool

	// Client options for dialing (SSH host key checks, timeouts)
	Dial client.Options

	// Logger for debug output (optional, defaults to a console logger)
	Logger *zerolog.Logger

	// ResponseTimeout for request/response operations (default: 10s)
	ResponseTimeout time.Duration
}

// Bot represents a roomchat bot instance.
type Bot struct {
	config Config
	conn   *connection
	logger zerolog.Logger
	name   string

	roomsMu sync.RWMutex
	rooms   map[string]bool // joined rooms; true when the bot is admin

	onMessage MessageHandler
	onMention MessageHandler
	onEvent   EventHandler
}

// New creates a new Bot with the given configuration.
func New(config Config) *Bot {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("bot", config.Name).Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = 10 * time.Second
	}

	return &Bot{
		config: config,
		logger: logger,
		name:   config.Name,
		rooms:  make(map[string]bool),
	}
}

// OnMessage registers a handler for all new messages.
func (b *Bot) OnMessage(handler MessageHandler) {
	b.onMessage = handler
}

// OnMention registers a handler for messages that mention the bot. When set,
// mentions are not passed to the OnMessage handler.
func (b *Bot) OnMention(handler MessageHandler) {
	b.onMention = handler
}

// OnEvent registers a handler for entered/left/closed/banned notices.
func (b *Bot) OnEvent(handler EventHandler) {
	b.onEvent = handler
}

// Rooms returns the rooms the bot is currently in.
func (b *Bot) Rooms() []string {
	b.roomsMu.RLock()
	defer b.roomsMu.RUnlock()
	names := make([]string, 0, len(b.rooms))
	for name := range b.rooms {
		names = append(names, name)
	}
	return names
}

// Run connects to the server and starts processing messages.
// Blocks until ctx is cancelled or the connection is lost.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Str("server", b.config.Server).Msg("connecting")
	c, err := client.Dial(b.config.Server, b.config.Dial)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	if warning := c.Warning(); warning != "" {
		b.logger.Warn().Msg(warning)
	}

	if err := c.Handshake(b.name, b.config.ResponseTimeout); err != nil {
		c.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	b.logger.Info().Msg("registered")

	b.conn = newConnection(c, b.handleNotice, b.handleStray)
	loopErr := make(chan error, 1)
	go func() { loopErr <- b.conn.receiveLoop() }()

	if err := b.joinRooms(); err != nil {
		b.conn.close()
		<-loopErr
		return fmt.Errorf("join rooms: %w", err)
	}
	b.logger.Info().Strs("rooms", b.Rooms()).Msg("bot is running")

	select {
	case <-ctx.Done():
		b.logger.Info().Msg("stop requested")
		b.conn.close()
		<-loopErr
		return nil
	case err := <-loopErr:
		if err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		return nil
	}
}

func (b *Bot) joinRooms() error {
	for _, room := range b.config.Rooms {
		admin, err := b.joinRoom(room)
		if err != nil {
			b.logger.Warn().Err(err).Str("room", room).Msg("could not join room")
			continue
		}
		b.roomsMu.Lock()
		b.rooms[room] = admin
		b.roomsMu.Unlock()
		b.logger.Info().Str("room", room).Bool("admin", admin).Msg("joined room")
	}

	if len(b.Rooms()) == 0 {
		return errors.New("no rooms joined")
	}
	return nil
}

// joinRoom enters room, creating it first when allowed. It reports whether
// the bot administers the room.
func (b *Bot) joinRoom(room string) (bool, error) {
	reply, err := b.conn.sendAndWait(protocol.Format(protocol.JoinRoom{Room: room}), b.config.ResponseTimeout)
	if err != nil {
		return false, err
	}
	if client.IsKeyword(reply, protocol.ReplyJoined) {
		return false, nil
	}
	if reply != protocol.Erro(protocol.MsgRoomNotFound) || !b.config.CreateMissing {
		return false, replyError(reply)
	}

	reply, err = b.conn.sendAndWait(protocol.Format(protocol.CreateRoom{Room: room}), b.config.ResponseTimeout)
	if err != nil {
		return false, err
	}
	if reply != protocol.ReplyCreated {
		return false, replyError(reply)
	}
	return true, nil
}

func replyError(reply string) error {
	if client.IsKeyword(reply, protocol.ReplyError) {
		return &client.RejectedError{Msg: strings.TrimSpace(strings.TrimPrefix(reply, protocol.ReplyError))}
	}
	return &client.UnexpectedReplyError{Want: protocol.ReplyJoined, Got: reply}
}

func (b *Bot) handleNotice(line string) {
	msg, ev, ok := parseNotice(line, b.name)
	if !ok {
		b.logger.Debug().Str("line", line).Msg("malformed notice")
		return
	}

	if ev != nil {
		if ev.Kind == EventRoomClosed || ev.Kind == EventBanned {
			b.roomsMu.Lock()
			delete(b.rooms, ev.Room)
			b.roomsMu.Unlock()
		}
		if b.onEvent != nil {
			b.onEvent(*ev)
		}
		return
	}

	// Skip our own messages
	if msg.Author == b.name {
		return
	}

	ctx := &Context{bot: b, message: msg}
	if msg.MentionsMe() && b.onMention != nil {
		b.onMention(ctx, msg)
		return
	}
	if b.onMessage != nil {
		b.onMessage(ctx, msg)
	}
}

func (b *Bot) handleStray(line string) {
	b.logger.Warn().Str("line", line).Msg("unexpected reply")
}
