package types

import "github.com/npezzotti/go-textchat/internal/protocol"

type User struct {
	Username string          `json:"username"`
	Status   protocol.Status `json:"status"`
}

type Room struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type UserList struct {
	Users []User `json:"users"`
}

type RoomList struct {
	Rooms []Room `json:"rooms"`
}
