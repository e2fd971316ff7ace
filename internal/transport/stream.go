package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/npezzotti/go-textchat/internal/protocol"
)

var errBudgetExhausted = errors.New("read budget exhausted")

// budgetReader fails once more than max bytes have been read since the last
// reset. The decoder may buffer the start of the next record, so the limit
// is approximate by up to one read.
type budgetReader struct {
	r    io.Reader
	max  int64
	left int64
}

func (b *budgetReader) reset() { b.left = b.max }

func (b *budgetReader) Read(p []byte) (int, error) {
	if b.left <= 0 {
		return 0, errBudgetExhausted
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.r.Read(p)
	b.left -= int64(n)
	return n, err
}

// StreamConn reads and writes JSON records on a byte stream. Inbound records
// may be concatenated or separated by whitespace; outbound records are
// newline terminated.
type StreamConn struct {
	conn      net.Conn
	dec       *json.Decoder
	budget    *budgetReader
	writeWait time.Duration
}

func NewStreamConn(conn net.Conn, maxMessageSize int64, writeWait time.Duration) *StreamConn {
	budget := &budgetReader{r: conn, max: maxMessageSize}
	return &StreamConn{
		conn:      conn,
		dec:       json.NewDecoder(budget),
		budget:    budget,
		writeWait: writeWait,
	}
}

func (c *StreamConn) ReadMessage() (protocol.Message, error) {
	c.budget.reset()

	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, errBudgetExhausted):
			return nil, fmt.Errorf("%w: limit is %d bytes", protocol.ErrTooLarge, c.budget.max)
		case errors.As(err, &syntaxErr):
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, io.EOF
		default:
			return nil, err
		}
	}

	return protocol.Decode(raw)
}

func (c *StreamConn) WriteMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if c.writeWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}

	_, err = c.conn.Write(append(data, '\n'))
	return err
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}

func (c *StreamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
