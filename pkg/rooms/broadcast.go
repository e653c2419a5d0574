package rooms

import (
	"fmt"

	"github.com/aeolun/roomchat/pkg/database"
	"github.com/samber/lo"
)

// Broadcast queues body in the mailbox of every member of room, the admin
// included, except the users listed in exclude. It runs inside the caller's
// transaction so the fan-out commits or rolls back with the change that
// produced it.
func Broadcast(tx database.Tx, room database.Room, body string, exclude ...int64) error {
	recipients, err := audience(tx, room)
	if err != nil {
		return err
	}
	for _, id := range lo.Without(recipients, exclude...) {
		if err := tx.Mailbox().Push(id, body); err != nil {
			return fmt.Errorf("broadcast to %d in %q: %w", id, room.Name, err)
		}
	}
	return nil
}

// audience is the admin followed by the members in join order.
func audience(tx database.Tx, room database.Room) ([]int64, error) {
	members, err := tx.Memberships().Members(room.ID)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(members, func(u database.User, _ int) int64 { return u.ID })
	return lo.Uniq(append([]int64{room.AdminID}, ids...)), nil
}
