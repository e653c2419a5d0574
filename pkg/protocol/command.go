package protocol

import "strings"

// Command is a parsed client line. The set of implementations is closed;
// dispatchers switch over the concrete types.
type Command interface {
	// Keyword returns the wire keyword the command was parsed from.
	Keyword() string
	command()
}

// Register is the first handshake step: REGISTRO <name>.
type Register struct{ Name string }

// Authenticate re-states the registered name: AUTENTICACAO <name>.
type Authenticate struct{ Name string }

// SymmetricKey carries the wrapped session key: CHAVE_SIMETRICA <key>.
type SymmetricKey struct{ Key string }

type ListRooms struct{}

type CreateRoom struct {
	Room     string
	Private  bool
	Password string
}

type JoinRoom struct {
	Room     string
	Password string
}

type LeaveRoom struct{ Room string }

type CloseRoom struct{ Room string }

type SendMessage struct {
	Room string
	Text string
}

type BanUser struct {
	Room string
	User string
}

// Unrecognized is produced for any line that does not parse.
type Unrecognized struct{ Line string }

func (Register) Keyword() string     { return KeywordRegister }
func (Authenticate) Keyword() string { return KeywordAuthenticate }
func (SymmetricKey) Keyword() string { return KeywordSymmetricKey }
func (ListRooms) Keyword() string    { return KeywordListRooms }
func (CreateRoom) Keyword() string   { return KeywordCreateRoom }
func (JoinRoom) Keyword() string     { return KeywordJoinRoom }
func (LeaveRoom) Keyword() string    { return KeywordLeaveRoom }
func (CloseRoom) Keyword() string    { return KeywordCloseRoom }
func (SendMessage) Keyword() string  { return KeywordSendMessage }
func (BanUser) Keyword() string      { return KeywordBanUser }
func (Unrecognized) Keyword() string { return "" }

func (Register) command()     {}
func (Authenticate) command() {}
func (SymmetricKey) command() {}
func (ListRooms) command()    {}
func (CreateRoom) command()   {}
func (JoinRoom) command()     {}
func (LeaveRoom) command()    {}
func (CloseRoom) command()    {}
func (SendMessage) command()  {}
func (BanUser) command()      {}
func (Unrecognized) command() {}

// Parse turns one line (without its terminator) into a Command. Tokens are
// separated by whitespace; missing required tokens yield Unrecognized and
// surplus tokens are ignored. The text of ENVIAR_MENSAGEM is the remainder of
// the line after the room token.
func Parse(line string) Command {
	keyword, rest := nextToken(line)
	switch keyword {
	case KeywordRegister:
		if name, _ := nextToken(rest); name != "" {
			return Register{Name: name}
		}
	case KeywordAuthenticate:
		if name, _ := nextToken(rest); name != "" {
			return Authenticate{Name: name}
		}
	case KeywordSymmetricKey:
		if key, _ := nextToken(rest); key != "" {
			return SymmetricKey{Key: key}
		}
	case KeywordListRooms:
		return ListRooms{}
	case KeywordCreateRoom:
		visibility, rest := nextToken(rest)
		var private bool
		switch visibility {
		case VisibilityPublic:
		case VisibilityPrivate:
			private = true
		default:
			return Unrecognized{Line: line}
		}
		room, rest := nextToken(rest)
		if room == "" {
			break
		}
		password, _ := nextToken(rest)
		return CreateRoom{Room: room, Private: private, Password: password}
	case KeywordJoinRoom:
		room, rest := nextToken(rest)
		if room == "" {
			break
		}
		password, _ := nextToken(rest)
		return JoinRoom{Room: room, Password: password}
	case KeywordLeaveRoom:
		if room, _ := nextToken(rest); room != "" {
			return LeaveRoom{Room: room}
		}
	case KeywordCloseRoom:
		if room, _ := nextToken(rest); room != "" {
			return CloseRoom{Room: room}
		}
	case KeywordSendMessage:
		room, rest := nextToken(rest)
		if room == "" {
			break
		}
		return SendMessage{Room: room, Text: strings.TrimSpace(rest)}
	case KeywordBanUser:
		room, rest := nextToken(rest)
		user, _ := nextToken(rest)
		if room != "" && user != "" {
			return BanUser{Room: room, User: user}
		}
	}
	return Unrecognized{Line: line}
}

// nextToken splits off the first whitespace-delimited token.
func nextToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t\r\n\v\f")
	i := strings.IndexAny(s, " \t\r\n\v\f")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// Format renders cmd as the line a client sends. Parse(Format(cmd)) returns
// cmd for every command whose tokens contain no whitespace.
func Format(cmd Command) string {
	switch c := cmd.(type) {
	case Register:
		return join(KeywordRegister, c.Name)
	case Authenticate:
		return join(KeywordAuthenticate, c.Name)
	case SymmetricKey:
		return join(KeywordSymmetricKey, c.Key)
	case ListRooms:
		return KeywordListRooms
	case CreateRoom:
		visibility := VisibilityPublic
		if c.Private {
			visibility = VisibilityPrivate
		}
		if c.Password == "" {
			return join(KeywordCreateRoom, visibility, c.Room)
		}
		return join(KeywordCreateRoom, visibility, c.Room, c.Password)
	case JoinRoom:
		if c.Password == "" {
			return join(KeywordJoinRoom, c.Room)
		}
		return join(KeywordJoinRoom, c.Room, c.Password)
	case LeaveRoom:
		return join(KeywordLeaveRoom, c.Room)
	case CloseRoom:
		return join(KeywordCloseRoom, c.Room)
	case SendMessage:
		return join(KeywordSendMessage, c.Room, c.Text)
	case BanUser:
		return join(KeywordBanUser, c.Room, c.User)
	case Unrecognized:
		return c.Line
	}
	return ""
}
