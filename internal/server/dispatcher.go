package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/npezzotti/go-textchat/internal/protocol"
	"github.com/npezzotti/go-textchat/internal/stats"
	"github.com/rs/zerolog"
)

var (
	// ErrUnexpectedMessage is returned for messages a client may not send,
	// such as server events. The connection should be dropped.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrPeerDisconnected is returned once a DISCONNECT has been handled. The
	// connection should be closed.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrPeerClosed is returned for messages from a peer whose cleanup has
	// already started.
	ErrPeerClosed = errors.New("peer closed")
)

// Peer is the Dispatcher's view of a connection. An empty Username means the
// peer has not identified yet. Closed must report true before the peer is
// passed to Disconnect and stay true afterwards.
type Peer interface {
	Sink
	Username() string
	SetUsername(name string)
	Closed() bool
}

type delivery struct {
	to  Sink
	msg protocol.Message
}

// outbox collects the effects of one dispatch so they can be applied after
// the registry lock is released.
type outbox struct {
	deliveries []delivery
	effects    []func()
}

func (o *outbox) send(to Sink, msg protocol.Message) {
	o.deliveries = append(o.deliveries, delivery{to: to, msg: msg})
}

func (o *outbox) reply(p Peer, op protocol.Type, result protocol.Result, extra string) {
	o.send(p, protocol.Reply(op, result, extra))
}

func (o *outbox) sendAll(users []*User, msg protocol.Message, skip *User) {
	for _, u := range users {
		if u != skip {
			o.send(u.sink, msg)
		}
	}
}

// later queues fn, typically logging or metrics, to run after unlock.
func (o *outbox) later(fn func()) {
	o.effects = append(o.effects, fn)
}

// Dispatcher applies client messages to the user and room registries. One
// mutex guards both registries, so a membership change is never observed
// half applied.
type Dispatcher struct {
	log   zerolog.Logger
	stats stats.StatsProvider
	mu    sync.Mutex
	users *UserRegistry
	rooms *RoomRegistry
}

func NewDispatcher(logger zerolog.Logger, su stats.StatsProvider) *Dispatcher {
	return &Dispatcher{
		log:   logger.With().Str("module", "dispatcher").Logger(),
		stats: su,
		users: NewUserRegistry(),
		rooms: NewRoomRegistry(),
	}
}

// Dispatch handles one inbound message from p. A non-nil error means the
// message violated the protocol and the connection should be closed; domain
// failures are reported to p as responses instead.
func (d *Dispatcher) Dispatch(p Peer, msg protocol.Message) error {
	var out outbox
	err := d.dispatch(p, msg, &out)
	d.flush(&out)
	return err
}

// Disconnect removes p's user, if any, from the registries and every room.
// It is safe to call more than once.
func (d *Dispatcher) Disconnect(p Peer) {
	var out outbox
	d.mu.Lock()
	d.disconnect(p, &out)
	d.mu.Unlock()
	d.flush(&out)
}

// Users returns every connected username with its status.
func (d *Dispatcher) Users() map[string]protocol.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users.Snapshot()
}

// Rooms returns every active room with its member names.
func (d *Dispatcher) Rooms() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	rooms := make(map[string][]string, d.rooms.Len())
	for _, name := range d.rooms.Names() {
		rooms[name] = d.rooms.MembersOf(name)
	}
	return rooms
}

func (d *Dispatcher) flush(out *outbox) {
	for _, fn := range out.effects {
		fn()
	}

	for _, dl := range out.deliveries {
		if !dl.to.Send(dl.msg) {
			d.log.Warn().Str("type", string(dl.msg.Type())).Msg("dropped message for unavailable recipient")
			d.stats.Incr(stats.DroppedMessages)
		}
	}
}

func (d *Dispatcher) dispatch(p Peer, msg protocol.Message, out *outbox) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Checked under the lock so nothing is registered for a peer that
	// Disconnect has already cleaned up.
	if p.Closed() {
		return ErrPeerClosed
	}

	if !protocol.IsClientRequest(msg.Type()) {
		out.send(p, protocol.ErrInvalidMessage(string(msg.Type())))
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
	}

	sender, identified := d.sender(p)
	if !identified {
		switch msg.(type) {
		case protocol.Identify:
		case protocol.Disconnect:
			return ErrPeerDisconnected
		default:
			out.reply(p, protocol.TypeInvalid, protocol.ResultNotIdentified, string(msg.Type()))
			return nil
		}
	}

	switch m := msg.(type) {
	case protocol.Identify:
		d.identify(p, m, out)
	case protocol.ChangeStatus:
		d.changeStatus(p, sender, m, out)
	case protocol.Text:
		d.text(p, sender, m, out)
	case protocol.PublicText:
		out.sendAll(d.allUsers(), protocol.PublicTextFrom{Username: sender.Name, Text: m.Text}, nil)
	case protocol.NewRoom:
		d.newRoom(p, m, out)
	case protocol.Invite:
		d.invite(p, m, out)
	case protocol.JoinRoom:
		d.joinRoom(p, sender, m, out)
	case protocol.RoomText:
		d.roomText(p, sender, m, out)
	case protocol.LeaveRoom:
		d.leaveRoom(p, sender, m, out)
	case protocol.Users:
		out.send(p, protocol.UserList{Users: d.users.Snapshot()})
	case protocol.RoomUsers:
		d.roomUsers(p, sender, m, out)
	case protocol.Disconnect:
		d.disconnect(p, out)
		return ErrPeerDisconnected
	default:
		out.send(p, protocol.ErrInvalidMessage(string(msg.Type())))
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
	}

	return nil
}

// sender returns the registered user behind p. A peer whose name was taken
// over after it disconnected does not count as identified.
func (d *Dispatcher) sender(p Peer) (*User, bool) {
	name := p.Username()
	if name == "" {
		return nil, false
	}

	u, ok := d.users.Lookup(name)
	if !ok || u.sink != Sink(p) {
		return nil, false
	}
	return u, true
}

func (d *Dispatcher) allUsers() []*User {
	users := make([]*User, 0, d.users.Len())
	d.users.ForEach(func(u *User) {
		users = append(users, u)
	})
	return users
}

func validName(name string) bool {
	return strings.TrimSpace(name) != "" && !strings.Contains(name, ",")
}

func (d *Dispatcher) identify(p Peer, m protocol.Identify, out *outbox) {
	if current := p.Username(); current != "" {
		out.reply(p, protocol.TypeIdentify, protocol.ResultInvalid, current)
		return
	}
	if !validName(m.Username) {
		out.reply(p, protocol.TypeIdentify, protocol.ResultInvalid, m.Username)
		return
	}

	if _, err := d.users.Register(m.Username, p); err != nil {
		if errors.Is(err, ErrUserExists) {
			out.reply(p, protocol.TypeIdentify, protocol.ResultUserAlreadyExists, m.Username)
		}
		return
	}

	p.SetUsername(m.Username)
	out.later(func() {
		d.log.Info().Str("username", m.Username).Msg("user identified")
		d.stats.Incr(stats.ActiveUsers)
	})
	out.reply(p, protocol.TypeIdentify, protocol.ResultSuccess, m.Username)
	out.sendAll(d.allUsers(), protocol.NewUser{Username: m.Username}, nil)
}

func (d *Dispatcher) changeStatus(p Peer, sender *User, m protocol.ChangeStatus, out *outbox) {
	status, ok := protocol.ParseStatus(m.Status)
	if !ok {
		out.reply(p, protocol.TypeStatus, protocol.ResultInvalid, m.Status)
		return
	}

	if err := d.users.SetStatus(sender.Name, status); err != nil {
		out.reply(p, protocol.TypeStatus, protocol.ResultNoSuchUser, sender.Name)
		return
	}
	out.sendAll(d.allUsers(), protocol.NewStatus{Username: sender.Name, Status: status}, nil)
}

func (d *Dispatcher) text(p Peer, sender *User, m protocol.Text, out *outbox) {
	target, ok := d.users.Lookup(m.Username)
	if !ok {
		out.reply(p, protocol.TypeText, protocol.ResultNoSuchUser, m.Username)
		return
	}
	out.send(target.sink, protocol.TextFrom{Username: sender.Name, Text: m.Text})
}

func (d *Dispatcher) newRoom(p Peer, m protocol.NewRoom, out *outbox) {
	if !validName(m.Room) {
		out.reply(p, protocol.TypeNewRoom, protocol.ResultInvalid, m.Room)
		return
	}

	if _, err := d.rooms.Create(m.Room); err != nil {
		out.reply(p, protocol.TypeNewRoom, protocol.ResultRoomAlreadyExists, m.Room)
		return
	}

	out.later(func() {
		d.log.Info().Str("room", m.Room).Msg("room created")
		d.stats.Incr(stats.ActiveRooms)
	})
	out.reply(p, protocol.TypeNewRoom, protocol.ResultSuccess, m.Room)
}

// invite adds the listed users in order and stops at the first unknown name.
// Invitations already applied at that point stay in effect.
func (d *Dispatcher) invite(p Peer, m protocol.Invite, out *outbox) {
	if _, ok := d.rooms.Get(m.Room); !ok {
		out.reply(p, protocol.TypeInvite, protocol.ResultNoSuchRoom, m.Room)
		return
	}
	if len(m.Usernames) == 0 {
		out.reply(p, protocol.TypeInvite, protocol.ResultInvalid, m.Room)
		return
	}

	for _, name := range m.Usernames {
		invitee, ok := d.users.Lookup(name)
		if !ok {
			out.reply(p, protocol.TypeInvite, protocol.ResultNoSuchUser, name)
			return
		}

		d.rooms.AddMember(m.Room, invitee)
		out.send(invitee.sink, protocol.Invitation{Username: name, Room: m.Room})
	}
}

func (d *Dispatcher) joinRoom(p Peer, sender *User, m protocol.JoinRoom, out *outbox) {
	room, ok := d.rooms.Get(m.Room)
	if !ok {
		out.reply(p, protocol.TypeJoinRoom, protocol.ResultNoSuchRoom, m.Room)
		return
	}

	if !room.Has(sender.Name) {
		d.rooms.AddMember(m.Room, sender)
		out.sendAll(room.Members(), protocol.JoinedRoom{Room: m.Room, Username: sender.Name}, sender)
	}
	out.reply(p, protocol.TypeJoinRoom, protocol.ResultSuccess, m.Room)
}

func (d *Dispatcher) roomText(p Peer, sender *User, m protocol.RoomText, out *outbox) {
	room, ok := d.memberRoom(p, sender, protocol.TypeRoomText, m.Room, out)
	if !ok {
		return
	}
	out.sendAll(room.Members(), protocol.RoomTextFrom{Room: m.Room, Username: sender.Name, Text: m.Text}, sender)
}

func (d *Dispatcher) leaveRoom(p Peer, sender *User, m protocol.LeaveRoom, out *outbox) {
	if _, ok := d.memberRoom(p, sender, protocol.TypeLeaveRoom, m.Room, out); !ok {
		return
	}
	d.leave(sender, m.Room, out)
}

func (d *Dispatcher) roomUsers(p Peer, sender *User, m protocol.RoomUsers, out *outbox) {
	room, ok := d.memberRoom(p, sender, protocol.TypeRoomUsers, m.Room, out)
	if !ok {
		return
	}

	users := make(map[string]protocol.Status, room.Len())
	for _, u := range room.Members() {
		users[u.Name] = u.Status
	}
	out.send(p, protocol.RoomUserList{Room: m.Room, Users: users})
}

// memberRoom looks up a room the sender must belong to, replying with
// NO_SUCH_ROOM or NOT_JOINED when it does not.
func (d *Dispatcher) memberRoom(p Peer, sender *User, op protocol.Type, name string, out *outbox) (*Room, bool) {
	room, ok := d.rooms.Get(name)
	if !ok {
		out.reply(p, op, protocol.ResultNoSuchRoom, name)
		return nil, false
	}
	if !room.Has(sender.Name) {
		out.reply(p, op, protocol.ResultNotJoined, name)
		return nil, false
	}
	return room, true
}

// leave removes u from a room it belongs to and tells the remaining members.
func (d *Dispatcher) leave(u *User, name string, out *outbox) {
	if d.rooms.RemoveMember(name, u) {
		out.later(func() {
			d.log.Info().Str("room", name).Msg("room deleted")
			d.stats.Decr(stats.ActiveRooms)
		})
		return
	}

	if room, ok := d.rooms.Get(name); ok {
		out.sendAll(room.Members(), protocol.LeftRoom{Room: name, Username: u.Name}, nil)
	}
}

func (d *Dispatcher) disconnect(p Peer, out *outbox) {
	u, ok := d.sender(p)
	if !ok {
		return
	}

	for _, name := range u.Rooms() {
		d.leave(u, name, out)
	}
	d.users.Remove(u.Name)
	p.SetUsername("")

	out.later(func() {
		d.log.Info().Str("username", u.Name).Msg("user disconnected")
		d.stats.Decr(stats.ActiveUsers)
	})
	out.sendAll(d.allUsers(), protocol.Disconnected{Username: u.Name}, nil)
}
