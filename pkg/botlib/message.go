// Package botlib provides a simple library for building roomchat bots.
package botlib

import (
	"strings"

	"github.com/aeolun/roomchat/pkg/protocol"
)

// Message represents a chat message received by the bot.
type Message struct {
	Room    string
	Author  string
	Content string

	// Internal: the bot's name for mention detection
	botName string
}

// MentionsMe returns true if the message content mentions the bot.
// Checks for @name patterns (case-insensitive).
func (m *Message) MentionsMe() bool {
	if m.botName == "" {
		return false
	}

	content := strings.ToLower(m.Content)
	name := strings.ToLower(m.botName)

	if strings.Contains(content, "@"+name) {
		return true
	}

	// Also check for name at start of message (common pattern)
	return strings.HasPrefix(content, name+":") ||
		strings.HasPrefix(content, name+",") ||
		strings.HasPrefix(content, name+" ")
}

// MentionedContent returns the message content with the bot mention removed.
// Useful for extracting the actual query/command.
func (m *Message) MentionedContent() string {
	if m.botName == "" {
		return m.Content
	}

	content := m.Content
	name := m.botName

	content = strings.ReplaceAll(content, "@"+name, "")
	content = strings.ReplaceAll(content, "@"+strings.ToLower(name), "")

	lower := strings.ToLower(content)
	lowerName := strings.ToLower(name)
	for _, sep := range []string{":", ",", " "} {
		if strings.HasPrefix(lower, lowerName+sep) {
			content = content[len(name)+1:]
			break
		}
	}

	return strings.TrimSpace(content)
}

// EventKind identifies a room notice other than a chat message.
type EventKind int

const (
	EventEntered EventKind = iota
	EventLeft
	EventRoomClosed
	EventBanned
)

func (k EventKind) String() string {
	switch k {
	case EventEntered:
		return "entered"
	case EventLeft:
		return "left"
	case EventRoomClosed:
		return "room_closed"
	case EventBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Event is a membership notice. User is empty for EventRoomClosed and
// EventBanned, which concern the bot itself.
type Event struct {
	Kind EventKind
	Room string
	User string
}

// isNotice reports whether line is an unsolicited notice rather than a
// reply to the bot's last request.
func isNotice(line string) bool {
	keyword, _, _ := strings.Cut(line, " ")
	switch keyword {
	case protocol.NoticeEntered, protocol.NoticeLeft, protocol.NoticeRoomClosed,
		protocol.NoticeMessage, protocol.NoticeBanned:
		return true
	}
	return false
}

// parseNotice decodes a notice line into either a Message or an Event.
func parseNotice(line, botName string) (*Message, *Event, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, nil, false
	}
	room := fields[1]

	switch fields[0] {
	case protocol.NoticeMessage:
		if len(fields) < 3 {
			return nil, nil, false
		}
		// Text keeps its inner spacing: cut exactly three tokens off the line
		rest := strings.TrimLeft(line, " ")
		for range 3 {
			_, rest, _ = strings.Cut(strings.TrimLeft(rest, " "), " ")
		}
		return &Message{Room: room, Author: fields[2], Content: rest, botName: botName}, nil, true
	case protocol.NoticeEntered:
		if len(fields) < 3 {
			return nil, nil, false
		}
		return nil, &Event{Kind: EventEntered, Room: room, User: fields[2]}, true
	case protocol.NoticeLeft:
		if len(fields) < 3 {
			return nil, nil, false
		}
		return nil, &Event{Kind: EventLeft, Room: room, User: fields[2]}, true
	case protocol.NoticeRoomClosed:
		return nil, &Event{Kind: EventRoomClosed, Room: room}, true
	case protocol.NoticeBanned:
		return nil, &Event{Kind: EventBanned, Room: room}, true
	}
	return nil, nil, false
}
