package database

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// TestMailboxMatchesQueueModel checks that any interleaving of pushes and
// drains delivers every body exactly once, in push order, per recipient.
func TestMailboxMatchesQueueModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		db := NewMemDB()
		defer db.Close()

		var ids []int64
		for i := range 3 {
			err := db.Update(func(tx Tx) error {
				u, err := tx.Users().Create(fmt.Sprintf("user%d", i))
				ids = append(ids, u.ID)
				return err
			})
			if err != nil {
				t.Fatalf("create user: %v", err)
			}
		}

		model := make(map[int64][]string)
		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for step := range steps {
			who := rapid.SampledFrom(ids).Draw(t, "who")
			if rapid.Bool().Draw(t, "push") {
				body := fmt.Sprintf("m%d", step)
				if err := db.Update(func(tx Tx) error { return tx.Mailbox().Push(who, body) }); err != nil {
					t.Fatalf("push: %v", err)
				}
				model[who] = append(model[who], body)
				continue
			}

			var got []string
			err := db.Update(func(tx Tx) error {
				entries, err := tx.Mailbox().Drain(who)
				for _, e := range entries {
					got = append(got, e.Body)
				}
				return err
			})
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			want := model[who]
			if len(got) != len(want) {
				t.Fatalf("drain(%d) = %v, want %v", who, got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("drain(%d) = %v, want %v", who, got, want)
				}
			}
			delete(model, who)
		}

		for _, id := range ids {
			var n int
			_ = db.View(func(tx Tx) error {
				var err error
				n, err = tx.Mailbox().Len(id)
				return err
			})
			if n != len(model[id]) {
				t.Fatalf("Len(%d) = %d, want %d", id, n, len(model[id]))
			}
		}
	})
}

// TestFailedUpdateLeavesNoTrace applies a random batch of writes, fails the
// transaction, and checks the observable state is unchanged.
func TestFailedUpdateLeavesNoTrace(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		db := NewMemDB()
		defer db.Close()

		var admin, guest User
		var room Room
		err := db.Update(func(tx Tx) error {
			var err error
			if admin, err = tx.Users().Create("admin"); err != nil {
				return err
			}
			if guest, err = tx.Users().Create("guest"); err != nil {
				return err
			}
			if room, err = tx.Rooms().Create("geral", false, "", admin.ID); err != nil {
				return err
			}
			_, err = tx.Memberships().Add(room.ID, guest.ID)
			return err
		})
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		before := snapshot(db)

		ops := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 10).Draw(t, "ops")
		_ = db.Update(func(tx Tx) error {
			for i, op := range ops {
				switch op {
				case 0:
					_, _ = tx.Users().Create(fmt.Sprintf("extra%d", i))
				case 1:
					_, _ = tx.Rooms().Create(fmt.Sprintf("room%d", i), false, "", guest.ID)
				case 2:
					_, _ = tx.Memberships().Remove(room.ID, guest.ID)
				case 3:
					_, _ = tx.Bans().Add(room.ID, "guest")
				case 4:
					_ = tx.Mailbox().Push(guest.ID, "x")
				case 5:
					_ = tx.Users().Delete(admin.ID)
				}
			}
			return fmt.Errorf("abort")
		})

		if after := snapshot(db); after != before {
			t.Fatalf("state changed after failed update:\nbefore %s\nafter  %s", before, after)
		}
	})
}

func snapshot(db *MemDB) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fmt.Sprint(len(db.users), len(db.usersByName), len(db.rooms), db.roomOrder,
		db.members, db.bans, len(db.mailbox))
}
