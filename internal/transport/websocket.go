package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-textchat/internal/protocol"
)

// WebSocketConn carries one JSON record per text frame.
type WebSocketConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

// NewWebSocketConn configures read limits and the pong handler on conn. A
// zero pongWait disables the read deadline.
func NewWebSocketConn(conn *websocket.Conn, maxMessageSize int64, writeWait, pongWait time.Duration) *WebSocketConn {
	c := &WebSocketConn{
		conn:      conn,
		writeWait: writeWait,
		pongWait:  pongWait,
	}

	conn.SetReadLimit(maxMessageSize)
	if pongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	return c
}

func (c *WebSocketConn) ReadMessage() (protocol.Message, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", protocol.ErrTooLarge, err)
		}
		return nil, err
	}

	return protocol.Decode(raw)
}

func (c *WebSocketConn) WriteMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	c.setWriteDeadline()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketConn) Ping() error {
	c.setWriteDeadline()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a best-effort close frame before closing the socket.
func (c *WebSocketConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *WebSocketConn) setWriteDeadline() {
	if c.writeWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
}

// IsUnexpectedClose reports whether err is a close that is worth logging.
func IsUnexpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure, websocket.CloseNormalClosure)
}
