package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/npezzotti/go-textchat/internal/protocol"
	"github.com/npezzotti/go-textchat/internal/transport"
	"github.com/rs/zerolog"
)

// Session is one client connection. The read pump feeds the dispatcher and
// the write pump drains the bounded send queue, so a slow reader never holds
// up other sessions.
type Session struct {
	id           string
	conn         transport.Conn
	cs           *ChatServer
	log          zerolog.Logger
	send         chan protocol.Message
	stop         chan struct{}
	pingInterval time.Duration

	mu       sync.RWMutex
	username string
	closed   bool

	closeOnce sync.Once
}

func newSession(id string, conn transport.Conn, cs *ChatServer) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		cs:           cs,
		log:          cs.log.With().Str("module", "session").Str("session", id).Logger(),
		send:         make(chan protocol.Message, cs.cfg.SendQueueSize),
		stop:         make(chan struct{}),
		pingInterval: cs.cfg.PingInterval,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Send queues msg without blocking. It reports false when the session is
// closed or its queue is full.
func (s *Session) Send(msg protocol.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer s.close()

	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if err := s.cs.dispatcher.Dispatch(s, msg); err != nil {
			switch {
			case errors.Is(err, ErrPeerDisconnected):
				s.log.Debug().Msg("client requested disconnect")
			case errors.Is(err, ErrPeerClosed):
				s.log.Debug().Str("type", string(msg.Type())).Msg("dropped message from closed session")
			default:
				s.log.Warn().Err(err).Msg("closing connection after protocol error")
			}
			return
		}
	}
}

func (s *Session) handleReadError(err error) {
	switch {
	case protocol.IsProtocolError(err):
		s.log.Warn().Err(err).Msg("closing connection after protocol error")
		s.Send(protocol.ErrInvalidMessage(err.Error()))
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Debug().Msg("peer closed connection")
	case transport.IsUnexpectedClose(err):
		s.log.Warn().Err(err).Msg("unexpected close")
	default:
		s.log.Debug().Err(err).Msg("read failed")
	}
}

func (s *Session) writePump() {
	var ping <-chan time.Time
	pinger, canPing := s.conn.(transport.Pinger)
	if canPing && s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug().Err(err).Msg("close connection")
		}
	}()

	for {
		select {
		case msg := <-s.send:
			if !s.write(msg) {
				s.close()
				return
			}
		case <-ping:
			if err := pinger.Ping(); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				s.close()
				return
			}
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain writes whatever was queued before the session closed, such as the
// error response that preceded a protocol failure.
func (s *Session) drain() {
	for {
		select {
		case msg := <-s.send:
			if !s.write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(msg protocol.Message) bool {
	if err := s.conn.WriteMessage(msg); err != nil {
		s.log.Warn().Err(err).Str("type", string(msg.Type())).Msg("write failed")
		return false
	}
	return true
}

// close tears the session down once: the queue stops accepting messages, the
// user leaves the registries and the write pump exits, closing the
// connection. The session is marked closed before Disconnect so a message
// the read pump is still dispatching cannot register it again.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cs.dispatcher.Disconnect(s)

		close(s.stop)
		s.cs.removeSession(s)
	})
}
