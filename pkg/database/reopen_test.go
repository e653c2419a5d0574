package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// countRows reads the table sizes straight from the file, bypassing Open.
func countRows(t *testing.T, path string) map[string]int {
	t.Helper()
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer conn.Close()

	counts := make(map[string]int)
	for _, table := range []string{"User", "Room", "Membership", "Ban", "MailboxEntry"} {
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		counts[table] = n
	}
	return counts
}

func TestReopenClearsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.db")

	db, err := Open(path)
	require.NoError(t, err)
	alice := mustUser(t, db, "alice")
	bob := mustUser(t, db, "bob")
	room := mustRoom(t, db, "geral", alice)
	require.NoError(t, db.Update(func(tx Tx) error {
		if _, err := tx.Memberships().Add(room.ID, bob.ID); err != nil {
			return err
		}
		if _, err := tx.Bans().Add(room.ID, "carol"); err != nil {
			return err
		}
		return tx.Mailbox().Push(bob.ID, "MENSAGEM geral alice oi")
	}))
	require.NoError(t, db.Close())

	assert.Equal(t, map[string]int{"User": 2, "Room": 1, "Membership": 1, "Ban": 1, "MailboxEntry": 1}, countRows(t, path))

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.Equal(t, map[string]int{"User": 0, "Room": 0, "Membership": 0, "Ban": 0, "MailboxEntry": 0}, countRows(t, path))
}

func TestReopenKeepsNamesFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.db")

	db, err := Open(path)
	require.NoError(t, err)
	alice := mustUser(t, db, "alice")
	mustRoom(t, db, "geral", alice)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	// Same names are available again after a restart
	alice = mustUser(t, db, "alice")
	room := mustRoom(t, db, "geral", alice)
	assert.Equal(t, "geral", room.Name)
	assert.Equal(t, alice.ID, room.AdminID)
}
