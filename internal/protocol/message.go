// Package protocol defines the chat wire messages and their JSON record codec.
//
// Every message is one variant of a closed set. The variant alone decides
// which fields travel on the wire; decoding a record with an unknown type
// fails instead of producing a partial message.
package protocol

import "strings"

type Type string

const (
	TypeIdentify   Type = "IDENTIFY"
	TypeStatus     Type = "STATUS"
	TypeText       Type = "TEXT"
	TypePublicText Type = "PUBLIC_TEXT"
	TypeNewRoom    Type = "NEW_ROOM"
	TypeInvite     Type = "INVITE"
	TypeJoinRoom   Type = "JOIN_ROOM"
	TypeRoomText   Type = "ROOM_TEXT"
	TypeLeaveRoom  Type = "LEAVE_ROOM"
	TypeUsers      Type = "USERS"
	TypeRoomUsers  Type = "ROOM_USERS"
	TypeDisconnect Type = "DISCONNECT"

	TypeResponse       Type = "RESPONSE"
	TypeNewUser        Type = "NEW_USER"
	TypeNewStatus      Type = "NEW_STATUS"
	TypeTextFrom       Type = "TEXT_FROM"
	TypePublicTextFrom Type = "PUBLIC_TEXT_FROM"
	TypeInvitation     Type = "INVITATION"
	TypeJoinedRoom     Type = "JOINED_ROOM"
	TypeRoomTextFrom   Type = "ROOM_TEXT_FROM"
	TypeLeftRoom       Type = "LEFT_ROOM"
	TypeUserList       Type = "USER_LIST"
	TypeRoomUserList   Type = "ROOM_USER_LIST"
	TypeDisconnected   Type = "DISCONNECTED"

	// TypeInvalid only appears as the operation of a protocol error response.
	TypeInvalid Type = "INVALID"
)

type Result string

const (
	ResultSuccess           Result = "SUCCESS"
	ResultUserAlreadyExists Result = "USER_ALREADY_EXISTS"
	ResultNoSuchUser        Result = "NO_SUCH_USER"
	ResultRoomAlreadyExists Result = "ROOM_ALREADY_EXISTS"
	ResultNoSuchRoom        Result = "NO_SUCH_ROOM"
	ResultNotJoined         Result = "NOT_JOINED"
	ResultNotIdentified     Result = "NOT_IDENTIFIED"
	ResultInvalid           Result = "INVALID"
)

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusAway   Status = "AWAY"
	StatusBusy   Status = "BUSY"
)

// ParseStatus accepts a status name in any letter case.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusAway, StatusBusy:
		return st, true
	default:
		return "", false
	}
}

// Message is implemented by every wire variant.
type Message interface {
	Type() Type
}

// Client requests.

type Identify struct {
	Username string
}

type ChangeStatus struct {
	Status string
}

type Text struct {
	Username string
	Text     string
}

type PublicText struct {
	Text string
}

type NewRoom struct {
	Room string
}

type Invite struct {
	Room      string
	Usernames []string
}

type JoinRoom struct {
	Room string
}

type RoomText struct {
	Room string
	Text string
}

type LeaveRoom struct {
	Room string
}

type Users struct{}

type RoomUsers struct {
	Room string
}

type Disconnect struct{}

// Server events.

// Response reports the outcome of a request to the client that sent it.
// Extra names the subject of the outcome: a username or a room name.
type Response struct {
	Operation Type
	Result    Result
	Extra     string
}

type NewUser struct {
	Username string
}

type NewStatus struct {
	Username string
	Status   Status
}

type TextFrom struct {
	Username string
	Text     string
}

type PublicTextFrom struct {
	Username string
	Text     string
}

type Invitation struct {
	Username string
	Room     string
}

type JoinedRoom struct {
	Room     string
	Username string
}

type RoomTextFrom struct {
	Room     string
	Username string
	Text     string
}

type LeftRoom struct {
	Room     string
	Username string
}

type UserList struct {
	Users map[string]Status
}

type RoomUserList struct {
	Room  string
	Users map[string]Status
}

type Disconnected struct {
	Username string
}

func (Identify) Type() Type       { return TypeIdentify }
func (ChangeStatus) Type() Type   { return TypeStatus }
func (Text) Type() Type           { return TypeText }
func (PublicText) Type() Type     { return TypePublicText }
func (NewRoom) Type() Type        { return TypeNewRoom }
func (Invite) Type() Type         { return TypeInvite }
func (JoinRoom) Type() Type       { return TypeJoinRoom }
func (RoomText) Type() Type       { return TypeRoomText }
func (LeaveRoom) Type() Type      { return TypeLeaveRoom }
func (Users) Type() Type          { return TypeUsers }
func (RoomUsers) Type() Type      { return TypeRoomUsers }
func (Disconnect) Type() Type     { return TypeDisconnect }
func (Response) Type() Type       { return TypeResponse }
func (NewUser) Type() Type        { return TypeNewUser }
func (NewStatus) Type() Type      { return TypeNewStatus }
func (TextFrom) Type() Type       { return TypeTextFrom }
func (PublicTextFrom) Type() Type { return TypePublicTextFrom }
func (Invitation) Type() Type     { return TypeInvitation }
func (JoinedRoom) Type() Type     { return TypeJoinedRoom }
func (RoomTextFrom) Type() Type   { return TypeRoomTextFrom }
func (LeftRoom) Type() Type       { return TypeLeftRoom }
func (UserList) Type() Type       { return TypeUserList }
func (RoomUserList) Type() Type   { return TypeRoomUserList }
func (Disconnected) Type() Type   { return TypeDisconnected }

// IsClientRequest reports whether t may be sent by a client.
func IsClientRequest(t Type) bool {
	switch t {
	case TypeIdentify, TypeStatus, TypeText, TypePublicText, TypeNewRoom,
		TypeInvite, TypeJoinRoom, TypeRoomText, TypeLeaveRoom, TypeUsers,
		TypeRoomUsers, TypeDisconnect:
		return true
	default:
		return false
	}
}

// Reply builds a response for op.
func Reply(op Type, result Result, extra string) Response {
	return Response{Operation: op, Result: result, Extra: extra}
}

// ErrInvalidMessage is the response sent before a connection is dropped for
// a protocol error.
func ErrInvalidMessage(detail string) Response {
	return Reply(TypeInvalid, ResultInvalid, detail)
}
