package api

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"

	"github.com/npezzotti/go-textchat/internal/transport"
	"github.com/npezzotti/go-textchat/internal/types"
)

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}

	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("error upgrading connection")
		return
	}

	c := transport.NewWebSocketConn(conn, s.cfg.MaxMessageSize, s.cfg.WriteWait, s.cfg.PongWait())
	if err := s.cs.ServeConn(c); err != nil {
		s.log.Warn().Err(err).Str("remote", c.RemoteAddr()).Msg("rejected websocket connection")
	}
}

func (s *App) listUsers(w http.ResponseWriter, r *http.Request) {
	users := s.cs.Users()

	resp := types.UserList{Users: make([]types.User, 0, len(users))}
	for _, name := range slices.Sorted(maps.Keys(users)) {
		resp.Users = append(resp.Users, types.User{Username: name, Status: users[name]})
	}

	s.writeJson(w, http.StatusOK, resp)
}

// listRooms returns every room, or only the one named by the name query
// parameter.
func (s *App) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.cs.Rooms()

	if name := r.URL.Query().Get("name"); name != "" {
		members, ok := rooms[name]
		if !ok {
			errResp := NewNotFoundError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, types.Room{Name: name, Members: nonNil(members)})
		return
	}

	resp := types.RoomList{Rooms: make([]types.Room, 0, len(rooms))}
	for _, name := range slices.Sorted(maps.Keys(rooms)) {
		resp.Rooms = append(resp.Rooms, types.Room{Name: name, Members: nonNil(rooms[name])})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
