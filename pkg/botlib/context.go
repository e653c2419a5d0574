package botlib

import (
	"fmt"

	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
)

// Context provides methods for responding to messages.
// It is passed to message handlers and provides a convenient API
// for common bot actions.
type Context struct {
	bot     *Bot
	message *Message
}

// Message returns the message that triggered this context.
func (c *Context) Message() *Message {
	return c.message
}

// Reply sends a message to the room the triggering message came from.
func (c *Context) Reply(content string) error {
	return c.bot.Say(c.message.Room, content)
}

// Room returns the room where the message was received.
func (c *Context) Room() string {
	return c.message.Room
}

// Author returns the name of the message author.
func (c *Context) Author() string {
	return c.message.Author
}

// BotName returns the bot's registered name.
func (c *Context) BotName() string {
	return c.bot.name
}

// Log returns the bot's logger.
func (c *Context) Log() *zerolog.Logger {
	return &c.bot.logger
}

// String returns a debug representation of the context.
func (c *Context) String() string {
	return fmt.Sprintf("Context{room=%s, author=%s}", c.message.Room, c.message.Author)
}

// Say sends content to room. There is no acknowledgement; failures inside
// the room arrive later as ERRO replies, which the bot logs.
func (b *Bot) Say(room, content string) error {
	if b.conn == nil {
		return errConnectionClosed
	}
	return b.conn.send(protocol.Format(protocol.SendMessage{Room: room, Text: content}))
}
