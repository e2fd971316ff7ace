package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/npezzotti/go-textchat/internal/config"
	"github.com/npezzotti/go-textchat/internal/protocol"
	"github.com/npezzotti/go-textchat/internal/stats"
	"github.com/npezzotti/go-textchat/internal/transport"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

var ErrServerClosed = errors.New("chat server closed")

type ChatServer struct {
	log        zerolog.Logger
	stats      stats.StatsProvider
	cfg        *config.Config
	dispatcher *Dispatcher

	sessionsLock sync.Mutex
	sessions     map[*Session]struct{}
	listeners    map[net.Listener]struct{}
	shuttingDown bool
	wg           sync.WaitGroup
}

func NewChatServer(logger zerolog.Logger, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for _, name := range []string{stats.ActiveUsers, stats.ActiveRooms, stats.Connections, stats.DroppedMessages} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:        logger.With().Str("module", "server").Logger(),
		stats:      su,
		cfg:        cfg,
		dispatcher: NewDispatcher(logger, su),
		sessions:   make(map[*Session]struct{}),
		listeners:  make(map[net.Listener]struct{}),
	}, nil
}

// Serve accepts byte-stream connections on ln until ln fails or the server
// shuts down, in which case it returns ErrServerClosed.
func (cs *ChatServer) Serve(ln net.Listener) error {
	if !cs.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer cs.untrackListener(ln)

	cs.log.Info().Str("addr", ln.Addr().String()).Msg("accepting chat connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if cs.closing() {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}

		c := transport.NewStreamConn(conn, cs.cfg.MaxMessageSize, cs.cfg.WriteWait)
		if err := cs.ServeConn(c); err != nil {
			cs.log.Warn().Err(err).Str("remote", c.RemoteAddr()).Msg("rejected connection")
		}
	}
}

// ServeConn starts a session on conn and returns immediately. The session
// owns conn from here on, even when an error is returned.
func (cs *ChatServer) ServeConn(conn transport.Conn) error {
	id, err := shortid.Generate()
	if err != nil {
		conn.Close()
		return fmt.Errorf("session id: %w", err)
	}

	s := newSession(id, conn, cs)

	cs.sessionsLock.Lock()
	if cs.shuttingDown {
		cs.sessionsLock.Unlock()
		conn.Close()
		return ErrServerClosed
	}
	cs.sessions[s] = struct{}{}
	cs.wg.Add(2)
	cs.sessionsLock.Unlock()

	cs.stats.Incr(stats.Connections)
	s.log.Info().Str("remote", conn.RemoteAddr()).Msg("new connection")

	go func() {
		defer cs.wg.Done()
		s.writePump()
	}()
	go func() {
		defer cs.wg.Done()
		s.readPump()
	}()

	return nil
}

func (cs *ChatServer) removeSession(s *Session) {
	cs.sessionsLock.Lock()
	_, ok := cs.sessions[s]
	delete(cs.sessions, s)
	cs.sessionsLock.Unlock()

	if ok {
		cs.stats.Decr(stats.Connections)
		s.log.Info().Msg("connection closed")
	}
}

func (cs *ChatServer) trackListener(ln net.Listener) bool {
	cs.sessionsLock.Lock()
	defer cs.sessionsLock.Unlock()
	if cs.shuttingDown {
		return false
	}
	cs.listeners[ln] = struct{}{}
	return true
}

func (cs *ChatServer) untrackListener(ln net.Listener) {
	cs.sessionsLock.Lock()
	defer cs.sessionsLock.Unlock()
	delete(cs.listeners, ln)
}

func (cs *ChatServer) closing() bool {
	cs.sessionsLock.Lock()
	defer cs.sessionsLock.Unlock()
	return cs.shuttingDown
}

// Users returns the connected users and their status.
func (cs *ChatServer) Users() map[string]protocol.Status {
	return cs.dispatcher.Users()
}

// Rooms returns the active rooms and their members.
func (cs *ChatServer) Rooms() map[string][]string {
	return cs.dispatcher.Rooms()
}

// Shutdown stops accepting connections, closes every session and waits for
// their pumps to exit or ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	cs.sessionsLock.Lock()
	cs.shuttingDown = true
	for ln := range cs.listeners {
		if err := ln.Close(); err != nil {
			cs.log.Debug().Err(err).Msg("close listener")
		}
	}
	sessions := make([]*Session, 0, len(cs.sessions))
	for s := range cs.sessions {
		sessions = append(sessions, s)
	}
	cs.sessionsLock.Unlock()

	for _, s := range sessions {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cs.log.Info().Int("sessions", len(sessions)).Msg("chat server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
