package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store. A single connection serializes every
// transaction, which is the same guarantee MemDB gives with its mutex.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and initializes the
// schema. Users are session-scoped, so rows left over from a previous run
// are removed; cascades take their rooms, memberships and mailboxes along.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Exactly one connection: transactions never interleave and the
	// per-connection PRAGMAs below stay in force.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := conn.Exec("DELETE FROM User"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to clear stale sessions: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
-- User table (one row per authenticated connection)
CREATE TABLE IF NOT EXISTS User (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

-- Room table
CREATE TABLE IF NOT EXISTS Room (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	is_private INTEGER NOT NULL DEFAULT 0,
	password TEXT NOT NULL DEFAULT '',
	admin_id INTEGER NOT NULL,
	FOREIGN KEY (admin_id) REFERENCES User(id) ON DELETE CASCADE,
	CHECK (is_private = 0 OR password <> '')
);

-- Membership table (admin is never stored here)
CREATE TABLE IF NOT EXISTS Membership (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	UNIQUE (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES Room(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Ban table (keyed by name so bans outlive the banned connection)
CREATE TABLE IF NOT EXISTS Ban (
	room_id INTEGER NOT NULL,
	user_name TEXT NOT NULL,
	PRIMARY KEY (room_id, user_name),
	FOREIGN KEY (room_id) REFERENCES Room(id) ON DELETE CASCADE
);

-- MailboxEntry table
CREATE TABLE IF NOT EXISTS MailboxEntry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id INTEGER NOT NULL,
	body TEXT NOT NULL,
	FOREIGN KEY (recipient_id) REFERENCES User(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_membership_user ON Membership(user_id);
CREATE INDEX IF NOT EXISTS idx_room_admin ON Room(admin_id);
CREATE INDEX IF NOT EXISTS idx_mailbox_recipient ON MailboxEntry(recipient_id, id);
`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) View(fn func(Tx) error) error {
	return db.run(true, fn)
}

func (db *DB) Update(fn func(Tx) error) error {
	return db.run(false, fn)
}

func (db *DB) run(readOnly bool, fn func(Tx) error) (err error) {
	tx, err := db.conn.BeginTx(context.Background(), nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
			return ErrClosed
		}
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&sqlTx{tx: tx, readOnly: readOnly}); err != nil {
		tx.Rollback()
		return err
	}
	if readOnly {
		return tx.Rollback()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *sqlTx) Users() Users             { return sqlUsers{t} }
func (t *sqlTx) Rooms() Rooms             { return sqlRooms{t} }
func (t *sqlTx) Memberships() Memberships { return sqlMemberships{t} }
func (t *sqlTx) Bans() Bans               { return sqlBans{t} }
func (t *sqlTx) Mailbox() Mailbox         { return sqlMailbox{t} }

func (t *sqlTx) exec(query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, ErrReadOnly
	}
	return t.tx.Exec(query, args...)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// === User Operations ===

type sqlUsers struct{ t *sqlTx }

func (r sqlUsers) Create(name string) (User, error) {
	res, err := r.t.exec(`INSERT INTO User (name) VALUES (?)`, name)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %q: %w", name, ErrNameTaken)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Name: name}, nil
}

func (r sqlUsers) Get(id int64) (User, error) {
	u := User{ID: id}
	err := r.t.tx.QueryRow(`SELECT name FROM User WHERE id = ?`, id).Scan(&u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

func (r sqlUsers) GetByName(name string) (User, error) {
	u := User{Name: name}
	err := r.t.tx.QueryRow(`SELECT id FROM User WHERE name = ?`, name).Scan(&u.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	return u, err
}

func (r sqlUsers) Delete(id int64) error {
	res, err := r.t.exec(`DELETE FROM User WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectRow(res, fmt.Errorf("user %d: %w", id, ErrNotFound))
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// === Room Operations ===

type sqlRooms struct{ t *sqlTx }

const roomColumns = `id, name, is_private, password, admin_id`

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.Private, &room.Password, &room.AdminID)
	return room, err
}

func (r sqlRooms) Create(name string, private bool, password string, adminID int64) (Room, error) {
	if private && password == "" {
		return Room{}, ErrInvalidRoom
	}
	res, err := r.t.exec(`INSERT INTO Room (name, is_private, password, admin_id) VALUES (?, ?, ?, ?)`,
		name, private, password, adminID)
	switch {
	case isUniqueViolation(err):
		return Room{}, fmt.Errorf("room %q: %w", name, ErrNameTaken)
	case isForeignKeyViolation(err):
		return Room{}, fmt.Errorf("admin %d: %w", adminID, ErrNotFound)
	case err != nil:
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Room{}, err
	}
	return Room{ID: id, Name: name, Private: private, Password: password, AdminID: adminID}, nil
}

func (r sqlRooms) GetByName(name string) (Room, error) {
	room, err := scanRoom(r.t.tx.QueryRow(`SELECT `+roomColumns+` FROM Room WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %q: %w", name, ErrNotFound)
	}
	return room, err
}

func (r sqlRooms) Delete(id int64) error {
	res, err := r.t.exec(`DELETE FROM Room WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return expectRow(res, fmt.Errorf("room %d: %w", id, ErrNotFound))
}

func (r sqlRooms) Public() iter.Seq2[Room, error] {
	return func(yield func(Room, error) bool) {
		rows, err := r.t.tx.Query(`SELECT ` + roomColumns + ` FROM Room WHERE is_private = 0 ORDER BY id`)
		if err != nil {
			yield(Room{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			room, err := scanRoom(rows)
			if !yield(room, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Room{}, err)
		}
	}
}

func (r sqlRooms) AdministeredBy(userID int64) ([]Room, error) {
	return r.t.queryRooms(`SELECT `+roomColumns+` FROM Room WHERE admin_id = ? ORDER BY id`, userID)
}

func (t *sqlTx) queryRooms(query string, args ...any) ([]Room, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// === Membership Operations ===

type sqlMemberships struct{ t *sqlTx }

func (r sqlMemberships) Add(roomID, userID int64) (bool, error) {
	res, err := r.t.exec(`INSERT OR IGNORE INTO Membership (room_id, user_id) VALUES (?, ?)`, roomID, userID)
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("membership (%d, %d): %w", roomID, userID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r sqlMemberships) Remove(roomID, userID int64) (bool, error) {
	res, err := r.t.exec(`DELETE FROM Membership WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r sqlMemberships) Exists(roomID, userID int64) (bool, error) {
	var exists bool
	err := r.t.tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM Membership WHERE room_id = ? AND user_id = ?)`,
		roomID, userID).Scan(&exists)
	return exists, err
}

func (r sqlMemberships) Members(roomID int64) ([]User, error) {
	rows, err := r.t.tx.Query(`
		SELECT u.id, u.name FROM Membership m
		JOIN User u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r sqlMemberships) RoomsOf(userID int64) ([]Room, error) {
	return r.t.queryRooms(`
		SELECT r.id, r.name, r.is_private, r.password, r.admin_id FROM Membership m
		JOIN Room r ON r.id = m.room_id
		WHERE m.user_id = ?
		ORDER BY r.id`, userID)
}

// === Ban Operations ===

type sqlBans struct{ t *sqlTx }

func (r sqlBans) Add(roomID int64, userName string) (bool, error) {
	res, err := r.t.exec(`INSERT OR IGNORE INTO Ban (room_id, user_name) VALUES (?, ?)`, roomID, userName)
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("insert ban: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r sqlBans) Exists(roomID int64, userName string) (bool, error) {
	var exists bool
	err := r.t.tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM Ban WHERE room_id = ? AND user_name = ?)`,
		roomID, userName).Scan(&exists)
	return exists, err
}

// === Mailbox Operations ===

type sqlMailbox struct{ t *sqlTx }

func (r sqlMailbox) Push(recipient int64, body string) error {
	_, err := r.t.exec(`INSERT INTO MailboxEntry (recipient_id, body) VALUES (?, ?)`, recipient, body)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("recipient %d: %w", recipient, ErrNotFound)
	}
	return err
}

func (r sqlMailbox) Drain(recipient int64) ([]MailboxEntry, error) {
	if r.t.readOnly {
		return nil, ErrReadOnly
	}
	rows, err := r.t.tx.Query(`SELECT id, body FROM MailboxEntry WHERE recipient_id = ? ORDER BY id`, recipient)
	if err != nil {
		return nil, err
	}
	var out []MailboxEntry
	for rows.Next() {
		e := MailboxEntry{Recipient: recipient}
		if err := rows.Scan(&e.ID, &e.Body); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	last := out[len(out)-1].ID
	if _, err := r.t.exec(`DELETE FROM MailboxEntry WHERE recipient_id = ? AND id <= ?`, recipient, last); err != nil {
		return nil, fmt.Errorf("delete mailbox: %w", err)
	}
	return out, nil
}

func (r sqlMailbox) Len(recipient int64) (int, error) {
	var n int
	err := r.t.tx.QueryRow(`SELECT COUNT(*) FROM MailboxEntry WHERE recipient_id = ?`, recipient).Scan(&n)
	return n, err
}
