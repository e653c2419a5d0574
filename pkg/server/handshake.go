package server

import (
	"errors"

	"github.com/aeolun/roomchat/pkg/crypto"
	"github.com/aeolun/roomchat/pkg/database"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
)

// HandshakeState is the position of a connection in the registration and
// key exchange sequence.
type HandshakeState uint8

const (
	StateStart HandshakeState = iota
	StateRegistered
	StateKeyOffered
	StateAuthenticated
)

func (st HandshakeState) String() string {
	switch st {
	case StateStart:
		return "start"
	case StateRegistered:
		return "registered"
	case StateKeyOffered:
		return "key_offered"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// handshake holds the per-connection progress through
// REGISTRO -> AUTENTICACAO -> CHAVE_SIMETRICA. It never blocks; the caller
// feeds it one plaintext line at a time.
type handshake struct {
	app   *App
	log   zerolog.Logger
	state HandshakeState
	name  string
	user  database.User
	codec *crypto.Codec
}

func newHandshake(app *App, log zerolog.Logger) *handshake {
	return &handshake{app: app, log: log}
}

// step consumes one line and returns the reply to send, or "" for none.
// Rejections that restart the sequence reset the state to StateStart.
func (h *handshake) step(line string) string {
	cmd := protocol.Parse(line)

	switch h.state {
	case StateStart:
		c, ok := cmd.(protocol.Register)
		if !ok {
			return h.fail("unexpected_command", protocol.MsgUnrecognized)
		}
		return h.register(c)

	case StateRegistered:
		c, ok := cmd.(protocol.Authenticate)
		if !ok {
			return h.fail("unexpected_command", protocol.MsgUnrecognized)
		}
		if c.Name != h.name {
			h.reset()
			return h.fail("name_mismatch", protocol.MsgNameMismatch)
		}
		h.state = StateKeyOffered
		return protocol.PublicKeyReply(h.app.Keys.PublicKeyString())

	case StateKeyOffered:
		c, ok := cmd.(protocol.SymmetricKey)
		if !ok {
			return h.fail("unexpected_command", protocol.MsgUnrecognized)
		}
		return h.acceptKey(c)
	}

	return h.fail("unexpected_command", protocol.MsgUnrecognized)
}

func (h *handshake) register(c protocol.Register) string {
	if !protocol.ValidName(c.Name) {
		return h.fail("invalid_name", protocol.MsgInvalidName)
	}
	inUse, err := h.app.Rooms.NameInUse(c.Name)
	if err != nil {
		h.log.Error().Err(err).Msg("name lookup failed")
		return protocol.Erro(protocol.MsgInternal)
	}
	if inUse {
		return h.fail("name_taken", protocol.MsgUserExists)
	}
	h.name = c.Name
	h.state = StateRegistered
	return protocol.ReplyRegistered
}

// acceptKey unwraps the session key and creates the user row. Success is
// silent: the next line the client reads is already encrypted.
func (h *handshake) acceptKey(c protocol.SymmetricKey) string {
	key, err := h.app.Keys.OpenSessionKey(c.Key)
	if err != nil {
		h.log.Debug().Err(err).Msg("session key rejected")
		h.reset()
		return h.fail("bad_key", protocol.MsgKeyTransmission)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		h.reset()
		return h.fail("bad_key", protocol.MsgKeyTransmission)
	}

	user, err := h.app.Rooms.Register(h.name)
	if err != nil {
		if !errors.Is(err, database.ErrNameTaken) {
			h.log.Error().Err(err).Str("name", h.name).Msg("failed to create user")
		}
		h.reset()
		return h.fail("create_failed", protocol.MsgCannotCreateUser)
	}

	h.user = user
	h.codec = codec
	h.state = StateAuthenticated
	return ""
}

func (h *handshake) reset() {
	h.state = StateStart
	h.name = ""
}

func (h *handshake) fail(reason, msg string) string {
	h.app.Metrics.RecordHandshakeFailure(reason)
	return protocol.Erro(msg)
}

// handshake runs the key exchange on a fresh connection. Reads wait without
// a deadline. On success the connection is switched to encrypted lines.
func (s *Server) handshake(sess *Session) (database.User, error) {
	h := newHandshake(s.app, sess.log)

	for h.state != StateAuthenticated {
		line, err := sess.Conn.Receive(0)
		if err != nil {
			return database.User{}, err
		}
		if reply := h.step(line); reply != "" {
			if err := sess.Conn.Send(reply); err != nil {
				return database.User{}, err
			}
		}
	}

	sess.Conn.Encrypt(h.codec)
	return h.user, nil
}
