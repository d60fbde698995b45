// Package server exposes sessions over WebSocket. Each connection joins
// one session; commands arrive as CBOR binary frames and server updates
// leave the same way.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shellring/shellring/internal/backend"
	"github.com/shellring/shellring/internal/protocol"
	"github.com/shellring/shellring/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Server routes WebSocket connections to named sessions, creating a
// session the first time its name is requested.
type Server struct {
	backend  backend.Backend
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

// NewServer creates a WebSocket server whose sessions run on b. The
// originAllowed function validates the Origin header on upgrade
// requests; requests without an Origin header are always allowed.
func NewServer(b backend.Backend, originAllowed func(string) bool) *Server {
	return &Server{
		backend:  b,
		sessions: make(map[string]*session.Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// Handler returns the HTTP handler serving "/ws/{name}".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.HandleWebSocket)
	return mux
}

// Session returns the session with the given name, creating it on
// first use. Returns an error after Close.
func (s *Server) Session(name string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("server is shutting down")
	}
	sess, ok := s.sessions[name]
	if !ok {
		sess = session.New(name, s.backend)
		s.sessions[name] = sess
		log.Printf("[WebSocket] Session %q created", name)
	}
	return sess, nil
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close terminates every session. Connected clients receive Terminated
// before their connections wind down.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Terminate()
	}
}

// HandleWebSocket upgrades a request for "/ws/{name}" and joins the
// connection to that session.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/ws/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "invalid session name", http.StatusNotFound)
		return
	}

	sess, err := s.Session(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade error: %v", err)
		return
	}

	client := sess.Join()
	log.Printf("[WebSocket] Client %s joined session %q", client.ID(), name)

	go writePump(conn, client)
	go readPump(conn, client)
}

// readPump decodes client commands until the connection drops, then
// removes the participant from the session.
func readPump(conn *websocket.Conn, client *session.Client) {
	defer func() {
		client.Close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Client %s read error: %v", client.ID(), err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			client.SendError("expected a binary frame")
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			// A malformed frame is the client's problem, not the
			// session's; report it and keep the connection.
			client.SendError(fmt.Sprintf("invalid message: %v", err))
			continue
		}
		client.Handle(msg)
	}
}

// writePump encodes session updates to binary frames and keeps the
// connection alive with pings. It exits when the client's message
// stream ends, closing the connection and unblocking the read pump.
func writePump(conn *websocket.Conn, client *session.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Messages():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := protocol.EncodeServer(msg)
			if err != nil {
				log.Printf("[WebSocket] Client %s encode error: %v", client.ID(), err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
