package server

import (
	"errors"
	"maps"
	"slices"

	"github.com/npezzotti/go-textchat/internal/protocol"
)

var (
	ErrUserExists = errors.New("user already exists")
	ErrNoSuchUser = errors.New("no such user")
)

// Sink accepts messages for one user. Send must not block.
type Sink interface {
	Send(msg protocol.Message) bool
}

type User struct {
	Name   string
	Status protocol.Status
	sink   Sink
	rooms  map[string]struct{}
}

func (u *User) InRoom(name string) bool {
	_, ok := u.rooms[name]
	return ok
}

// Rooms returns the joined room names in order.
func (u *User) Rooms() []string {
	return slices.Sorted(maps.Keys(u.rooms))
}

// UserRegistry holds the connected users by name. It does no locking of its
// own; the Dispatcher serializes all access.
type UserRegistry struct {
	users map[string]*User
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{users: make(map[string]*User)}
}

// Register adds name with the default status. The first registrant of a name
// keeps it until removed.
func (r *UserRegistry) Register(name string, sink Sink) (*User, error) {
	if _, ok := r.users[name]; ok {
		return nil, ErrUserExists
	}

	u := &User{
		Name:   name,
		Status: protocol.StatusActive,
		sink:   sink,
		rooms:  make(map[string]struct{}),
	}
	r.users[name] = u
	return u, nil
}

func (r *UserRegistry) Lookup(name string) (*User, bool) {
	u, ok := r.users[name]
	return u, ok
}

func (r *UserRegistry) SetStatus(name string, status protocol.Status) error {
	u, ok := r.users[name]
	if !ok {
		return ErrNoSuchUser
	}
	u.Status = status
	return nil
}

// Remove deletes name. Removing an absent user is a no-op.
func (r *UserRegistry) Remove(name string) {
	delete(r.users, name)
}

func (r *UserRegistry) ForEach(fn func(u *User)) {
	for _, u := range r.users {
		fn(u)
	}
}

// Snapshot maps every username to its status.
func (r *UserRegistry) Snapshot() map[string]protocol.Status {
	snap := make(map[string]protocol.Status, len(r.users))
	for name, u := range r.users {
		snap[name] = u.Status
	}
	return snap
}

func (r *UserRegistry) Len() int {
	return len(r.users)
}
