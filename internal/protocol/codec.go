package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrTooLarge    = errors.New("message too large")
)

// IsProtocolError reports whether err was caused by the peer sending
// something that is not a valid message, as opposed to a transport failure.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType) || errors.Is(err, ErrTooLarge)
}

// record is the flat wire form shared by every variant. Field names are
// matched case-insensitively on decode, so PascalCase senders interoperate.
type record struct {
	Type      Type              `json:"type"`
	Username  string            `json:"username,omitempty"`
	Text      string            `json:"text,omitempty"`
	RoomName  string            `json:"roomname,omitempty"`
	Status    string            `json:"status,omitempty"`
	Operation Type              `json:"operation,omitempty"`
	Result    Result            `json:"result,omitempty"`
	Extra     string            `json:"extra,omitempty"`
	Users     map[string]Status `json:"users,omitempty"`
}

// Encode serializes msg as a single JSON record.
func Encode(msg Message) ([]byte, error) {
	rec, err := toRecord(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// Decode parses exactly one JSON record.
func Decode(data []byte) (Message, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromRecord(rec)
}

// SplitUsernames parses the comma separated invitee list of an INVITE.
// Blank entries are dropped.
func SplitUsernames(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func toRecord(msg Message) (record, error) {
	rec := record{Type: msg.Type()}
	switch m := msg.(type) {
	case Identify:
		rec.Username = m.Username
	case ChangeStatus:
		rec.Status = m.Status
	case Text:
		rec.Username, rec.Text = m.Username, m.Text
	case PublicText:
		rec.Text = m.Text
	case NewRoom:
		rec.RoomName = m.Room
	case Invite:
		rec.RoomName, rec.Extra = m.Room, strings.Join(m.Usernames, ",")
	case JoinRoom:
		rec.RoomName = m.Room
	case RoomText:
		rec.RoomName, rec.Text = m.Room, m.Text
	case LeaveRoom:
		rec.RoomName = m.Room
	case Users, Disconnect:
	case RoomUsers:
		rec.RoomName = m.Room
	case Response:
		rec.Operation, rec.Result, rec.Extra = m.Operation, m.Result, m.Extra
	case NewUser:
		rec.Username = m.Username
	case NewStatus:
		rec.Username, rec.Extra = m.Username, string(m.Status)
	case TextFrom:
		rec.Username, rec.Text = m.Username, m.Text
	case PublicTextFrom:
		rec.Username, rec.Text = m.Username, m.Text
	case Invitation:
		rec.Username, rec.RoomName = m.Username, m.Room
	case JoinedRoom:
		rec.RoomName, rec.Username = m.Room, m.Username
	case RoomTextFrom:
		rec.RoomName, rec.Username, rec.Text = m.Room, m.Username, m.Text
	case LeftRoom:
		rec.RoomName, rec.Username = m.Room, m.Username
	case UserList:
		rec.Users = m.Users
	case RoomUserList:
		rec.RoomName, rec.Users = m.Room, m.Users
	case Disconnected:
		rec.Username = m.Username
	default:
		return record{}, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	return rec, nil
}

func fromRecord(rec record) (Message, error) {
	switch rec.Type {
	case TypeIdentify:
		return Identify{Username: rec.Username}, nil
	case TypeStatus:
		return ChangeStatus{Status: rec.Status}, nil
	case TypeText:
		return Text{Username: rec.Username, Text: rec.Text}, nil
	case TypePublicText:
		return PublicText{Text: rec.Text}, nil
	case TypeNewRoom:
		return NewRoom{Room: rec.RoomName}, nil
	case TypeInvite:
		return Invite{Room: rec.RoomName, Usernames: SplitUsernames(rec.Extra)}, nil
	case TypeJoinRoom:
		return JoinRoom{Room: rec.RoomName}, nil
	case TypeRoomText:
		return RoomText{Room: rec.RoomName, Text: rec.Text}, nil
	case TypeLeaveRoom:
		return LeaveRoom{Room: rec.RoomName}, nil
	case TypeUsers:
		return Users{}, nil
	case TypeRoomUsers:
		return RoomUsers{Room: rec.RoomName}, nil
	case TypeDisconnect:
		return Disconnect{}, nil
	case TypeResponse:
		return Response{Operation: rec.Operation, Result: rec.Result, Extra: rec.Extra}, nil
	case TypeNewUser:
		return NewUser{Username: rec.Username}, nil
	case TypeNewStatus:
		return NewStatus{Username: rec.Username, Status: Status(rec.Extra)}, nil
	case TypeTextFrom:
		return TextFrom{Username: rec.Username, Text: rec.Text}, nil
	case TypePublicTextFrom:
		return PublicTextFrom{Username: rec.Username, Text: rec.Text}, nil
	case TypeInvitation:
		return Invitation{Username: rec.Username, Room: rec.RoomName}, nil
	case TypeJoinedRoom:
		return JoinedRoom{Room: rec.RoomName, Username: rec.Username}, nil
	case TypeRoomTextFrom:
		return RoomTextFrom{Room: rec.RoomName, Username: rec.Username, Text: rec.Text}, nil
	case TypeLeftRoom:
		return LeftRoom{Room: rec.RoomName, Username: rec.Username}, nil
	case TypeUserList:
		return UserList{Users: rec.Users}, nil
	case TypeRoomUserList:
		return RoomUserList{Room: rec.RoomName, Users: rec.Users}, nil
	case TypeDisconnected:
		return Disconnected{Username: rec.Username}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, rec.Type)
	}
}
