// Package control carries backup commands and events over a websocket.
//
// A requester connects to Path and sends command frames; each one is
// answered by a reply frame with the same id. Events of the backup session
// are broadcast to every connected requester.
package control

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/valvemist/vmbackup/backup"
)

// ErrNoRequester is returned by SendEvent when nobody is connected.
const ErrNoRequester = errors.ConstError("no requester connected")

const sendBuffer = 64

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelInfo,
	AddSource: true,
}))

// SetLogger sets the logger used by the control package.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		log = logger
	}
}

// Dispatcher runs a command against the orchestrator.
type Dispatcher func(ctx context.Context, command, args string) backup.Result

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Server is the websocket endpoint. It implements backup.EventSink.
type Server struct {
	dispatch Dispatcher
	token    string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewServer returns a server handing commands to dispatch. An empty token
// disables authentication.
func NewServer(dispatch Dispatcher, token string) *Server {
	return &Server{
		dispatch: dispatch,
		token:    token,
		clients:  make(map[*client]bool),
	}
}

// SetupRoutes registers the websocket endpoint on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(Path, s.handleWS)
}

// SendEvent broadcasts an event frame to every requester. Slow requesters
// are disconnected rather than waited for.
func (s *Server) SendEvent(sessionID, event string, code backup.Status, msg string) error {
	data := []byte(BuildEventJSON(sessionID, event, code, msg))

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return ErrNoRequester
	}
	for _, c := range clients {
		s.enqueue(c, data)
	}
	return nil
}

// ClientCount returns the number of connected requesters.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every requester.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("ws upgrade error", "error", err)
		return
	}
	log.Info("requester connected", "remote", r.RemoteAddr)

	c := s.addClient(conn)
	defer func() {
		s.removeClient(c)
		log.Info("requester disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := ParseRequest(data)
		if err != nil {
			log.Debug("bad request frame", "error", err)
			s.enqueue(c, []byte(BuildReplyJSON(0, backup.Result{Message: "Invalid request."})))
			continue
		}
		log.Debug("command", "id", req.ID, "command", req.Command, "args", req.Args)
		result := s.dispatch(r.Context(), req.Command, req.Args)
		s.enqueue(c, []byte(BuildReplyJSON(req.ID, result)))
	}
}

func (s *Server) addClient(conn *websocket.Conn) *client {
	c := newClient(conn)
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	return c
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) enqueue(c *client, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Requester can't keep up; the read loop ends once the writer
		// closes the connection.
		log.Warn("requester too slow, disconnecting")
		go s.removeClient(c)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.token
}
