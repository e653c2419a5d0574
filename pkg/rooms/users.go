package rooms

import (
	"errors"

	"github.com/aeolun/roomchat/pkg/database"
)

// NameInUse reports whether a connected user currently holds name.
func (s *Service) NameInUse(name string) (bool, error) {
	var inUse bool
	err := s.store.View(func(tx database.Tx) error {
		_, err := tx.Users().GetByName(name)
		switch {
		case err == nil:
			inUse = true
		case errors.Is(err, database.ErrNotFound):
		default:
			return err
		}
		return nil
	})
	return inUse, err
}

// Register creates the user row for a completed handshake. A name claimed
// by another connection in the meantime fails with database.ErrNameTaken.
func (s *Service) Register(name string) (database.User, error) {
	var user database.User
	err := s.store.Update(func(tx database.Tx) error {
		var err error
		user, err = tx.Users().Create(name)
		return err
	})
	return user, err
}
