package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-textchat/internal/config"
	"github.com/npezzotti/go-textchat/internal/protocol"
	"github.com/npezzotti/go-textchat/internal/transport"
	"github.com/rs/zerolog"
)

// ChatService is the part of the chat server the HTTP front end needs.
type ChatService interface {
	ServeConn(conn transport.Conn) error
	Users() map[string]protocol.Status
	Rooms() map[string][]string
}

type App struct {
	log      zerolog.Logger
	srv      *http.Server
	cs       ChatService
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewApp registers the chat routes on mux and wraps it with CORS and panic
// recovery. mux may already carry other routes, such as /debug/vars.
func NewApp(mux *http.ServeMux, logger zerolog.Logger, cs ChatService, cfg *config.Config) *App {
	s := &App{
		log: logger.With().Str("module", "api").Logger(),
		cs:  cs,
		cfg: cfg,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/users", s.listUsers)
	mux.HandleFunc("GET /api/rooms", s.listRooms)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h,
	}

	return s
}

// Start serves HTTP until Shutdown is called, after which it returns nil.
func (s *App) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
