package database

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// MemDB is the in-memory Store. All state sits behind one RWMutex; Update
// keeps an undo log so a failing transaction leaves no trace.
type MemDB struct {
	mu     sync.RWMutex
	closed bool
	nextID int64

	// Core data
	users   map[int64]*User
	rooms   map[int64]*Room
	mailbox map[int64][]MailboxEntry // recipient -> FIFO

	// Indexes
	usersByName map[string]int64
	roomsByName map[string]int64
	roomOrder   []int64                       // creation order
	members     map[int64][]int64             // roomID -> userIDs in join order
	bans        map[int64]map[string]struct{} // roomID -> banned names
}

// NewMemDB creates an empty in-memory store.
func NewMemDB() *MemDB {
	return &MemDB{
		users:       make(map[int64]*User),
		rooms:       make(map[int64]*Room),
		mailbox:     make(map[int64][]MailboxEntry),
		usersByName: make(map[string]int64),
		roomsByName: make(map[string]int64),
		members:     make(map[int64][]int64),
		bans:        make(map[int64]map[string]struct{}),
	}
}

func (m *MemDB) View(fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{db: m})
}

func (m *MemDB) Update(fn func(Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := &memTx{db: m, writable: true}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
	}
	return err
}

func (m *MemDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemDB) id() int64 {
	m.nextID++
	return m.nextID
}

// memTx implements every repository over the locked MemDB.
type memTx struct {
	db       *MemDB
	writable bool
	undo     []func()
}

func (tx *memTx) Users() Users             { return memUsers{tx} }
func (tx *memTx) Rooms() Rooms             { return memRooms{tx} }
func (tx *memTx) Memberships() Memberships { return memMemberships{tx} }
func (tx *memTx) Bans() Bans               { return memBans{tx} }
func (tx *memTx) Mailbox() Mailbox         { return memMailbox{tx} }

func (tx *memTx) write(undo func()) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.undo = append(tx.undo, undo)
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// deleteRoom removes a room with its memberships and bans.
func (tx *memTx) deleteRoom(room *Room) error {
	db := tx.db
	oldOrder := slices.Clone(db.roomOrder)
	oldMembers, hadMembers := db.members[room.ID]
	oldBans, hadBans := db.bans[room.ID]
	if err := tx.write(func() {
		db.rooms[room.ID] = room
		db.roomsByName[room.Name] = room.ID
		db.roomOrder = oldOrder
		if hadMembers {
			db.members[room.ID] = oldMembers
		}
		if hadBans {
			db.bans[room.ID] = oldBans
		}
	}); err != nil {
		return err
	}

	delete(db.rooms, room.ID)
	delete(db.roomsByName, room.Name)
	delete(db.members, room.ID)
	delete(db.bans, room.ID)
	db.roomOrder = slices.DeleteFunc(slices.Clone(db.roomOrder), func(id int64) bool { return id == room.ID })
	return nil
}

func (tx *memTx) setMembers(roomID int64, ids []int64) error {
	db := tx.db
	old, had := db.members[roomID]
	if err := tx.write(func() {
		if had {
			db.members[roomID] = old
		} else {
			delete(db.members, roomID)
		}
	}); err != nil {
		return err
	}
	if len(ids) == 0 {
		delete(db.members, roomID)
	} else {
		db.members[roomID] = ids
	}
	return nil
}

// === User Operations ===

type memUsers struct{ tx *memTx }

func (r memUsers) Create(name string) (User, error) {
	db := r.tx.db
	if _, exists := db.usersByName[name]; exists {
		return User{}, fmt.Errorf("user %q: %w", name, ErrNameTaken)
	}
	user := &User{ID: db.id(), Name: name}
	if err := r.tx.write(func() {
		delete(db.users, user.ID)
		delete(db.usersByName, user.Name)
	}); err != nil {
		return User{}, err
	}
	db.users[user.ID] = user
	db.usersByName[name] = user.ID
	return *user, nil
}

func (r memUsers) Get(id int64) (User, error) {
	user, ok := r.tx.db.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return *user, nil
}

func (r memUsers) GetByName(name string) (User, error) {
	id, ok := r.tx.db.usersByName[name]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	return *r.tx.db.users[id], nil
}

func (r memUsers) Delete(id int64) error {
	db := r.tx.db
	user, ok := db.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}

	for _, roomID := range slices.Clone(db.roomOrder) {
		room := db.rooms[roomID]
		if room.AdminID == id {
			if err := r.tx.deleteRoom(room); err != nil {
				return err
			}
			continue
		}
		if ids := db.members[roomID]; slices.Contains(ids, id) {
			remaining := slices.DeleteFunc(slices.Clone(ids), func(m int64) bool { return m == id })
			if err := r.tx.setMembers(roomID, remaining); err != nil {
				return err
			}
		}
	}

	pending, hadMail := db.mailbox[id]
	if err := r.tx.write(func() {
		db.users[id] = user
		db.usersByName[user.Name] = id
		if hadMail {
			db.mailbox[id] = pending
		}
	}); err != nil {
		return err
	}
	delete(db.users, id)
	delete(db.usersByName, user.Name)
	delete(db.mailbox, id)
	return nil
}

// === Room Operations ===

type memRooms struct{ tx *memTx }

func (r memRooms) Create(name string, private bool, password string, adminID int64) (Room, error) {
	db := r.tx.db
	if _, exists := db.roomsByName[name]; exists {
		return Room{}, fmt.Errorf("room %q: %w", name, ErrNameTaken)
	}
	if private && password == "" {
		return Room{}, ErrInvalidRoom
	}
	if _, ok := db.users[adminID]; !ok {
		return Room{}, fmt.Errorf("admin %d: %w", adminID, ErrNotFound)
	}

	room := &Room{ID: db.id(), Name: name, Private: private, Password: password, AdminID: adminID}
	oldOrder := db.roomOrder
	if err := r.tx.write(func() {
		delete(db.rooms, room.ID)
		delete(db.roomsByName, room.Name)
		db.roomOrder = oldOrder
	}); err != nil {
		return Room{}, err
	}
	db.rooms[room.ID] = room
	db.roomsByName[name] = room.ID
	db.roomOrder = append(slices.Clone(db.roomOrder), room.ID)
	return *room, nil
}

func (r memRooms) GetByName(name string) (Room, error) {
	id, ok := r.tx.db.roomsByName[name]
	if !ok {
		return Room{}, fmt.Errorf("room %q: %w", name, ErrNotFound)
	}
	return *r.tx.db.rooms[id], nil
}

func (r memRooms) Delete(id int64) error {
	room, ok := r.tx.db.rooms[id]
	if !ok {
		return fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	return r.tx.deleteRoom(room)
}

func (r memRooms) Public() iter.Seq2[Room, error] {
	return func(yield func(Room, error) bool) {
		db := r.tx.db
		for _, id := range slices.Clone(db.roomOrder) {
			room, ok := db.rooms[id]
			if !ok || room.Private {
				continue
			}
			if !yield(*room, nil) {
				return
			}
		}
	}
}

func (r memRooms) AdministeredBy(userID int64) ([]Room, error) {
	db := r.tx.db
	var out []Room
	for _, id := range db.roomOrder {
		if room := db.rooms[id]; room.AdminID == userID {
			out = append(out, *room)
		}
	}
	return out, nil
}

// === Membership Operations ===

type memMemberships struct{ tx *memTx }

func (r memMemberships) Add(roomID, userID int64) (bool, error) {
	db := r.tx.db
	if _, ok := db.rooms[roomID]; !ok {
		return false, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if _, ok := db.users[userID]; !ok {
		return false, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	ids := db.members[roomID]
	if slices.Contains(ids, userID) {
		return false, nil
	}
	if err := r.tx.setMembers(roomID, append(slices.Clone(ids), userID)); err != nil {
		return false, err
	}
	return true, nil
}

func (r memMemberships) Remove(roomID, userID int64) (bool, error) {
	ids := r.tx.db.members[roomID]
	if !slices.Contains(ids, userID) {
		return false, nil
	}
	remaining := slices.DeleteFunc(slices.Clone(ids), func(id int64) bool { return id == userID })
	if err := r.tx.setMembers(roomID, remaining); err != nil {
		return false, err
	}
	return true, nil
}

func (r memMemberships) Exists(roomID, userID int64) (bool, error) {
	return slices.Contains(r.tx.db.members[roomID], userID), nil
}

func (r memMemberships) Members(roomID int64) ([]User, error) {
	db := r.tx.db
	ids := db.members[roomID]
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		out = append(out, *db.users[id])
	}
	return out, nil
}

func (r memMemberships) RoomsOf(userID int64) ([]Room, error) {
	db := r.tx.db
	var out []Room
	for _, id := range db.roomOrder {
		if slices.Contains(db.members[id], userID) {
			out = append(out, *db.rooms[id])
		}
	}
	return out, nil
}

// === Ban Operations ===

type memBans struct{ tx *memTx }

func (r memBans) Add(roomID int64, userName string) (bool, error) {
	db := r.tx.db
	if _, ok := db.rooms[roomID]; !ok {
		return false, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	set := db.bans[roomID]
	if _, banned := set[userName]; banned {
		return false, nil
	}
	fresh := set == nil
	if err := r.tx.write(func() {
		if fresh {
			delete(db.bans, roomID)
		} else {
			delete(db.bans[roomID], userName)
		}
	}); err != nil {
		return false, err
	}
	if set == nil {
		set = make(map[string]struct{})
		db.bans[roomID] = set
	}
	set[userName] = struct{}{}
	return true, nil
}

func (r memBans) Exists(roomID int64, userName string) (bool, error) {
	_, banned := r.tx.db.bans[roomID][userName]
	return banned, nil
}

// === Mailbox Operations ===

type memMailbox struct{ tx *memTx }

func (r memMailbox) Push(recipient int64, body string) error {
	db := r.tx.db
	if _, ok := db.users[recipient]; !ok {
		return fmt.Errorf("recipient %d: %w", recipient, ErrNotFound)
	}
	old := db.mailbox[recipient]
	if err := r.tx.write(func() {
		if len(old) == 0 {
			delete(db.mailbox, recipient)
		} else {
			db.mailbox[recipient] = old
		}
	}); err != nil {
		return err
	}
	entry := MailboxEntry{ID: db.id(), Recipient: recipient, Body: body}
	db.mailbox[recipient] = append(slices.Clip(old), entry)
	return nil
}

func (r memMailbox) Drain(recipient int64) ([]MailboxEntry, error) {
	if !r.tx.writable {
		return nil, ErrReadOnly
	}
	db := r.tx.db
	pending := db.mailbox[recipient]
	if len(pending) == 0 {
		return nil, nil
	}
	if err := r.tx.write(func() {
		db.mailbox[recipient] = pending
	}); err != nil {
		return nil, err
	}
	delete(db.mailbox, recipient)
	return slices.Clone(pending), nil
}

func (r memMailbox) Len(recipient int64) (int, error) {
	return len(r.tx.db.mailbox[recipient]), nil
}
