package server

import (
	"errors"
	"maps"
	"slices"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrNoSuchRoom = errors.New("no such room")
)

type Room struct {
	Name    string
	members map[string]*User
}

func (r *Room) Has(username string) bool {
	_, ok := r.members[username]
	return ok
}

func (r *Room) Len() int {
	return len(r.members)
}

// Members returns the members ordered by name.
func (r *Room) Members() []*User {
	users := make([]*User, 0, len(r.members))
	for _, name := range slices.Sorted(maps.Keys(r.members)) {
		users = append(users, r.members[name])
	}
	return users
}

// RoomRegistry holds the active rooms by name. Membership changes update
// both the room and the user's room set. Like UserRegistry it relies on the
// Dispatcher for locking.
type RoomRegistry struct {
	rooms map[string]*Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*Room)}
}

// Create adds an empty room. It stays until a member leaves it empty.
func (r *RoomRegistry) Create(name string) (*Room, error) {
	if _, ok := r.rooms[name]; ok {
		return nil, ErrRoomExists
	}

	room := &Room{Name: name, members: make(map[string]*User)}
	r.rooms[name] = room
	return room, nil
}

func (r *RoomRegistry) Get(name string) (*Room, bool) {
	room, ok := r.rooms[name]
	return room, ok
}

// AddMember joins u to the room. Adding a member twice is a no-op.
func (r *RoomRegistry) AddMember(name string, u *User) error {
	room, ok := r.rooms[name]
	if !ok {
		return ErrNoSuchRoom
	}

	room.members[u.Name] = u
	u.rooms[name] = struct{}{}
	return nil
}

// RemoveMember takes u out of the room and deletes the room once it is
// empty, reporting whether it did. Removing a non-member is a no-op.
func (r *RoomRegistry) RemoveMember(name string, u *User) (deleted bool) {
	delete(u.rooms, name)

	room, ok := r.rooms[name]
	if !ok || !room.Has(u.Name) {
		return false
	}

	delete(room.members, u.Name)
	if len(room.members) == 0 {
		delete(r.rooms, name)
		return true
	}
	return false
}

// MembersOf returns a copy of the member names, or nil for an absent room.
func (r *RoomRegistry) MembersOf(name string) []string {
	room, ok := r.rooms[name]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(room.members))
	for member := range room.members {
		names = append(names, member)
	}
	slices.Sort(names)
	return names
}

func (r *RoomRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.rooms))
}

func (r *RoomRegistry) Len() int {
	return len(r.rooms)
}
