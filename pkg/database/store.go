// Package database holds the domain store: users, rooms, memberships, bans
// and mailboxes. Every access goes through a View or Update transaction, so
// the store is the single serialization point shared by all sessions.
package database

import (
	"errors"
	"iter"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNameTaken   = errors.New("name already taken")
	ErrInvalidRoom = errors.New("private room requires a password")
	ErrReadOnly    = errors.New("write in read-only transaction")
	ErrClosed      = errors.New("store closed")
)

// User is a connected, authenticated identity. It lives only as long as the
// connection that created it.
type User struct {
	ID   int64
	Name string
}

// Room is a chat room. The admin is implicitly a member and never appears
// as a membership row.
type Room struct {
	ID       int64
	Name     string
	Private  bool
	Password string
	AdminID  int64
}

// MailboxEntry is one pending line for a recipient.
type MailboxEntry struct {
	ID        int64
	Recipient int64
	Body      string
}

// Users manages session-scoped identities.
type Users interface {
	// Create fails with ErrNameTaken when name belongs to a connected user.
	Create(name string) (User, error)
	Get(id int64) (User, error)
	GetByName(name string) (User, error)
	// Delete removes the user together with its memberships, mailbox and
	// any rooms it still administers.
	Delete(id int64) error
}

// Rooms manages rooms. Deleting a room removes its memberships and bans.
type Rooms interface {
	Create(name string, private bool, password string, adminID int64) (Room, error)
	GetByName(name string) (Room, error)
	Delete(id int64) error
	// Public yields non-private rooms in creation order. The sequence is only
	// valid inside the transaction that produced it.
	Public() iter.Seq2[Room, error]
	AdministeredBy(userID int64) ([]Room, error)
}

// Memberships is the (room, user) relation with set semantics.
type Memberships interface {
	// Add reports false when the membership already existed.
	Add(roomID, userID int64) (bool, error)
	// Remove reports false when there was nothing to remove.
	Remove(roomID, userID int64) (bool, error)
	Exists(roomID, userID int64) (bool, error)
	// Members lists users holding a membership row, in join order.
	Members(roomID int64) ([]User, error)
	// RoomsOf lists rooms where userID holds a membership row.
	RoomsOf(userID int64) ([]Room, error)
}

// Bans is the (room, user name) relation with set semantics. Keying by name
// keeps a ban in force when the banned user reconnects.
type Bans interface {
	// Add reports whether the ban is new.
	Add(roomID int64, userName string) (bool, error)
	Exists(roomID int64, userName string) (bool, error)
}

// Mailbox is the per-user FIFO of pending lines.
type Mailbox interface {
	Push(recipient int64, body string) error
	// Drain returns and removes every pending entry for recipient, oldest first.
	Drain(recipient int64) ([]MailboxEntry, error)
	Len(recipient int64) (int, error)
}

// Tx exposes the repositories inside one transaction.
type Tx interface {
	Users() Users
	Rooms() Rooms
	Memberships() Memberships
	Bans() Bans
	Mailbox() Mailbox
}

// Store is the shared domain store. Update runs fn atomically: if fn
// returns an error, none of its writes are kept. Callers must not perform
// network I/O inside fn.
type Store interface {
	View(fn func(Tx) error) error
	Update(fn func(Tx) error) error
	Close() error
}
