package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(name string) *User {
	return &User{Name: name, sink: &fakePeer{}, rooms: make(map[string]struct{})}
}

func TestRoomRegistry_Create(t *testing.T) {
	r := NewRoomRegistry()

	room, err := r.Create("lobby")
	require.NoError(t, err)
	assert.Equal(t, "lobby", room.Name)
	assert.Equal(t, 0, room.Len(), "expected a new room to be empty")

	_, err = r.Create("lobby")
	assert.ErrorIs(t, err, ErrRoomExists)

	got, ok := r.Get("lobby")
	assert.True(t, ok)
	assert.Same(t, room, got)
	assert.Equal(t, []string{"lobby"}, r.Names())
}

func TestRoomRegistry_AddMember(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("lobby")
	alice := newTestUser("alice")

	require.NoError(t, r.AddMember("lobby", alice))
	require.NoError(t, r.AddMember("lobby", alice), "expected adding twice to be a no-op")

	assert.Equal(t, []string{"alice"}, r.MembersOf("lobby"))
	assert.True(t, alice.InRoom("lobby"), "expected the user's room set to be updated")

	assert.ErrorIs(t, r.AddMember("den", alice), ErrNoSuchRoom)
	assert.False(t, alice.InRoom("den"))
}

func TestRoomRegistry_RemoveMember(t *testing.T) {
	t.Run("room is deleted when the last member leaves", func(t *testing.T) {
		r := NewRoomRegistry()
		r.Create("lobby")
		alice, bob := newTestUser("alice"), newTestUser("bob")
		r.AddMember("lobby", alice)
		r.AddMember("lobby", bob)

		assert.False(t, r.RemoveMember("lobby", alice))
		assert.Equal(t, []string{"bob"}, r.MembersOf("lobby"))
		assert.False(t, alice.InRoom("lobby"))

		assert.True(t, r.RemoveMember("lobby", bob))
		_, ok := r.Get("lobby")
		assert.False(t, ok, "expected empty room to be deleted")
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, bob.Rooms())
	})

	t.Run("removing a non-member changes nothing", func(t *testing.T) {
		r := NewRoomRegistry()
		r.Create("lobby")
		alice, bob := newTestUser("alice"), newTestUser("bob")
		r.AddMember("lobby", alice)

		assert.False(t, r.RemoveMember("lobby", bob))
		assert.Equal(t, []string{"alice"}, r.MembersOf("lobby"))
	})

	t.Run("removing from an absent room", func(t *testing.T) {
		r := NewRoomRegistry()
		assert.False(t, r.RemoveMember("lobby", newTestUser("alice")))
	})

	t.Run("a never joined room is kept", func(t *testing.T) {
		r := NewRoomRegistry()
		r.Create("lobby")

		assert.False(t, r.RemoveMember("lobby", newTestUser("alice")))
		_, ok := r.Get("lobby")
		assert.True(t, ok)
	})
}

func TestRoomRegistry_MembersOf(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("lobby")
	for _, name := range []string{"carol", "alice", "bob"} {
		r.AddMember("lobby", newTestUser(name))
	}

	members := r.MembersOf("lobby")
	assert.Equal(t, []string{"alice", "bob", "carol"}, members, "expected sorted members")

	members[0] = "mallory"
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.MembersOf("lobby"), "expected a snapshot copy")

	assert.Nil(t, r.MembersOf("den"))

	r.Create("empty")
	assert.NotNil(t, r.MembersOf("empty"))
	assert.Empty(t, r.MembersOf("empty"))
}
