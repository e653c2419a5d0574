// Package rooms implements the chat room rules on top of the domain store.
// Every operation runs in a single store transaction: a rejected request
// returns a protocol validation error and leaves the store untouched, and
// any notices it produces are queued in the same transaction.
package rooms

import (
	"errors"
	"iter"

	"github.com/aeolun/roomchat/pkg/database"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// CreateRoomRequest is the validated input of CreateRoom.
type CreateRoomRequest struct {
	Room     string `validate:"required,max=32"`
	Private  bool
	Password string
}

// Service applies room operations on behalf of authenticated users.
type Service struct {
	store database.Store
}

func NewService(store database.Store) *Service {
	return &Service{store: store}
}

func reject(msg string) error {
	return protocol.Validation(msg)
}

// roomByName maps a missing room onto the client-facing error.
func roomByName(tx database.Tx, name string) (database.Room, error) {
	room, err := tx.Rooms().GetByName(name)
	if errors.Is(err, database.ErrNotFound) {
		return database.Room{}, reject(protocol.MsgRoomNotFound)
	}
	return room, err
}

// CreateRoom creates a room administered by owner.
func (s *Service) CreateRoom(owner database.User, req CreateRoomRequest) error {
	if err := validate.Struct(req); err != nil {
		return reject(protocol.MsgInvalidName)
	}
	return s.store.Update(func(tx database.Tx) error {
		if _, err := tx.Rooms().GetByName(req.Room); err == nil {
			return reject(protocol.MsgRoomExists)
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if req.Private && req.Password == "" {
			return reject(protocol.MsgPrivateNeedsPass)
		}

		_, err := tx.Rooms().Create(req.Room, req.Private, req.Password, owner.ID)
		switch {
		case errors.Is(err, database.ErrNameTaken):
			return reject(protocol.MsgRoomExists)
		case errors.Is(err, database.ErrInvalidRoom):
			return reject(protocol.MsgPrivateNeedsPass)
		}
		return err
	})
}

// JoinRoom adds user to the room and returns the member names, admin first.
func (s *Service) JoinRoom(user database.User, name, password string) ([]string, error) {
	var names []string
	err := s.store.Update(func(tx database.Tx) error {
		room, err := roomByName(tx, name)
		if err != nil {
			return err
		}

		banned, err := tx.Bans().Exists(room.ID, user.Name)
		if err != nil {
			return err
		}
		if banned {
			return reject(protocol.MsgBannedFromRoom)
		}

		member, err := tx.Memberships().Exists(room.ID, user.ID)
		if err != nil {
			return err
		}
		if member || room.AdminID == user.ID {
			return reject(protocol.MsgAlreadyMember)
		}

		// Public rooms may carry a password too; the stored value always rules
		if password != room.Password {
			return reject(protocol.MsgWrongPassword)
		}

		if _, err := tx.Memberships().Add(room.ID, user.ID); err != nil {
			return err
		}
		if err := Broadcast(tx, room, protocol.EnteredNotice(room.Name, user.Name), user.ID); err != nil {
			return err
		}

		admin, err := tx.Users().Get(room.AdminID)
		if err != nil {
			return err
		}
		members, err := tx.Memberships().Members(room.ID)
		if err != nil {
			return err
		}
		names = append([]string{admin.Name}, lo.Map(members, func(u database.User, _ int) string { return u.Name })...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// LeaveRoom removes a non-admin member from the room.
func (s *Service) LeaveRoom(user database.User, name string) error {
	return s.store.Update(func(tx database.Tx) error {
		room, err := roomByName(tx, name)
		if err != nil {
			return err
		}
		if room.AdminID == user.ID {
			return reject(protocol.MsgAdminMustClose)
		}

		removed, err := tx.Memberships().Remove(room.ID, user.ID)
		if err != nil {
			return err
		}
		if !removed {
			return reject(protocol.MsgNotMember)
		}
		return Broadcast(tx, room, protocol.LeftNotice(room.Name, user.Name))
	})
}

// CloseRoom deletes a room. Only its admin may close it.
func (s *Service) CloseRoom(user database.User, name string) error {
	return s.store.Update(func(tx database.Tx) error {
		room, err := roomByName(tx, name)
		if err != nil {
			return err
		}
		if room.AdminID != user.ID {
			return reject(protocol.MsgNotAdmin)
		}
		return closeRoom(tx, room)
	})
}

// closeRoom notifies every member except the admin and deletes the room
// together with its memberships and bans.
func closeRoom(tx database.Tx, room database.Room) error {
	if err := Broadcast(tx, room, protocol.RoomClosedNotice(room.Name), room.AdminID); err != nil {
		return err
	}
	return tx.Rooms().Delete(room.ID)
}

// SendMessage relays text to every other member of the room.
func (s *Service) SendMessage(user database.User, name, text string) error {
	return s.store.Update(func(tx database.Tx) error {
		room, err := roomByName(tx, name)
		if err != nil {
			return err
		}
		if room.AdminID != user.ID {
			member, err := tx.Memberships().Exists(room.ID, user.ID)
			if err != nil {
				return err
			}
			if !member {
				return reject(protocol.MsgNotMember)
			}
		}
		return Broadcast(tx, room, protocol.MessageNotice(room.Name, user.Name, text), user.ID)
	})
}

// BanUser bans target from the room, removing its membership first.
func (s *Service) BanUser(admin database.User, name, target string) error {
	return s.store.Update(func(tx database.Tx) error {
		room, err := roomByName(tx, name)
		if err != nil {
			return err
		}
		if room.AdminID != admin.ID {
			return reject(protocol.MsgNotAdmin)
		}

		victim, err := tx.Users().GetByName(target)
		if errors.Is(err, database.ErrNotFound) {
			return reject(protocol.MsgUserNotFound)
		} else if err != nil {
			return err
		}
		if victim.ID == admin.ID {
			return reject(protocol.MsgCannotBanSelf)
		}

		removed, err := tx.Memberships().Remove(room.ID, victim.ID)
		if err != nil {
			return err
		}
		if removed {
			if err := Broadcast(tx, room, protocol.LeftNotice(room.Name, victim.Name), admin.ID, victim.ID); err != nil {
				return err
			}
		}

		fresh, err := tx.Bans().Add(room.ID, victim.Name)
		if err != nil {
			return err
		}
		if fresh {
			return tx.Mailbox().Push(victim.ID, protocol.BannedNotice(room.Name))
		}
		return nil
	})
}

// ListRooms yields public room names in creation order. Each range runs in
// its own read transaction; the loop body must not touch the store.
func (s *Service) ListRooms() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := s.store.View(func(tx database.Tx) error {
			for room, err := range tx.Rooms().Public() {
				if err != nil {
					return err
				}
				if !yield(room.Name, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// Drain removes and returns the pending lines for userID, oldest first.
func (s *Service) Drain(userID int64) ([]string, error) {
	var entries []database.MailboxEntry
	err := s.store.Update(func(tx database.Tx) error {
		var err error
		entries, err = tx.Mailbox().Drain(userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e database.MailboxEntry, _ int) string { return e.Body }), nil
}

// Teardown removes a disconnecting user: it leaves every room it joined,
// closes every room it administers, and deletes the user with its mailbox.
// Tearing down an unknown user is a no-op.
func (s *Service) Teardown(userID int64) error {
	return s.store.Update(func(tx database.Tx) error {
		user, err := tx.Users().Get(userID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		joined, err := tx.Memberships().RoomsOf(userID)
		if err != nil {
			return err
		}
		for _, room := range joined {
			if _, err := tx.Memberships().Remove(room.ID, userID); err != nil {
				return err
			}
			if err := Broadcast(tx, room, protocol.LeftNotice(room.Name, user.Name)); err != nil {
				return err
			}
		}

		owned, err := tx.Rooms().AdministeredBy(userID)
		if err != nil {
			return err
		}
		for _, room := range owned {
			if err := closeRoom(tx, room); err != nil {
				return err
			}
		}
		return tx.Users().Delete(userID)
	})
}
