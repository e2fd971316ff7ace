// Package transport adapts byte-stream and WebSocket connections to a
// message-at-a-time interface.
package transport

import "github.com/npezzotti/go-textchat/internal/protocol"

// Conn carries decoded messages. ReadMessage and WriteMessage may be called
// concurrently with each other, but each must only be used by one goroutine.
type Conn interface {
	ReadMessage() (protocol.Message, error)
	WriteMessage(msg protocol.Message) error
	Close() error
	RemoteAddr() string
}

// Pinger is implemented by connections that need keepalive frames.
type Pinger interface {
	Ping() error
}
