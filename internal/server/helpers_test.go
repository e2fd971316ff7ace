package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-textchat/internal/config"
	"github.com/npezzotti/go-textchat/internal/protocol"
	"github.com/npezzotti/go-textchat/internal/stats"
	"github.com/npezzotti/go-textchat/internal/testutil"
	"github.com/npezzotti/go-textchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer records everything sent to it.
type fakePeer struct {
	mu       sync.Mutex
	username string
	msgs     []protocol.Message
	full     bool
	closed   bool
}

func (p *fakePeer) Send(msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username
}

func (p *fakePeer) SetUsername(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = name
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) setClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.full = full
}

// take returns the recorded messages and forgets them.
func (p *fakePeer) take() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.msgs
	p.msgs = nil
	return msgs
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	return NewDispatcher(testutil.TestLogger(t), stats.NewIgnoringMock())
}

// identified registers a fresh peer as name and discards the messages the
// registration produced on every given peer.
func identified(t *testing.T, d *Dispatcher, name string, others ...*fakePeer) *fakePeer {
	t.Helper()

	p := &fakePeer{}
	require.NoError(t, d.Dispatch(p, protocol.Identify{Username: name}))
	require.Equal(t, name, p.Username(), "expected %s to be identified", name)

	p.take()
	for _, o := range others {
		o.take()
	}
	return p
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WriteWait = time.Second
	cfg.PingInterval = 0
	return cfg
}

func newTestChatServer(t *testing.T, cfg *config.Config) *ChatServer {
	t.Helper()

	cs, err := NewChatServer(testutil.TestLogger(t), stats.NewIgnoringMock(), cfg)
	require.NoError(t, err, "failed to create test ChatServer")
	return cs
}

// testClient is the far end of a session connected over net.Pipe.
type testClient struct {
	t    *testing.T
	raw  net.Conn
	conn *transport.StreamConn
	msgs chan protocol.Message
}

func connectTestClient(t *testing.T, cs *ChatServer) *testClient {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	require.NoError(t, cs.ServeConn(transport.NewStreamConn(serverSide, cs.cfg.MaxMessageSize, cs.cfg.WriteWait)))

	c := &testClient{
		t:    t,
		raw:  clientSide,
		conn: transport.NewStreamConn(clientSide, 1<<16, time.Second),
		msgs: make(chan protocol.Message, 64),
	}
	t.Cleanup(func() { clientSide.Close() })

	go func() {
		defer close(c.msgs)
		for {
			msg, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			c.msgs <- msg
		}
	}()

	return c
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(msg), "failed to write %s", msg.Type())
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	c.raw.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := c.raw.Write([]byte(data))
	require.NoError(c.t, err, "failed to write raw data")
}

func (c *testClient) next() protocol.Message {
	c.t.Helper()

	select {
	case msg, ok := <-c.msgs:
		require.True(c.t, ok, "expected a message, connection closed")
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(c.t, "timed out waiting for message")
		return nil
	}
}

func (c *testClient) expect(want protocol.Message) {
	c.t.Helper()
	assert.Equal(c.t, want, c.next())
}

// expectClosed waits for the server to close the connection, failing on any
// message still in flight.
func (c *testClient) expectClosed() {
	c.t.Helper()

	select {
	case msg, ok := <-c.msgs:
		assert.False(c.t, ok, "expected connection to be closed, got %v", msg)
	case <-time.After(2 * time.Second):
		assert.Fail(c.t, "timed out waiting for connection to close")
	}
}

// identify logs the client in as name and consumes the response and its own
// NEW_USER event.
func (c *testClient) identify(name string) {
	c.t.Helper()
	c.send(protocol.Identify{Username: name})
	c.expect(protocol.Reply(protocol.TypeIdentify, protocol.ResultSuccess, name))
	c.expect(protocol.NewUser{Username: name})
}
