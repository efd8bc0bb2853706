// Package server bridges a running session to browser UIs over WebSocket.
//
// Every published result is pushed to all clients. The registry view is
// pushed when it changes. Clients send {"action": "toggle"|"delete"|"view", "id": ...}.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Message types sent to clients.
const (
	TypeResult = "result"
	TypeView   = "view"
	TypeError  = "error"
)

// Action names accepted from clients.
const (
	ActionToggle = "toggle"
	ActionDelete = "delete"
	ActionView   = "view"
)

//go:embed index.html
var indexHTML []byte

// Registry is what the UI may read and change.
type Registry interface {
	View(currentID string) types.View
	ToggleConversion(id string) bool
	Delete(id string) bool
}

// Message is a server → client frame.
type Message struct {
	Type   string           `json:"type"`
	Result *types.Published `json:"result,omitempty"`
	View   *types.View      `json:"view,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Action is a client → server frame.
type Action struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Config is the configuration for a Server.
type Config struct {
	Registry Registry

	// OnChange runs after a toggle or delete changed the registry.
	OnChange func(id string)

	// Logger is the provided zap logger
	Logger *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server holds the connected clients.
type Server struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	current string

	httpServer *http.Server
}

func New(c Config) *Server {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Server{
		config: c,
		logger: c.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP routes: the UI page and the /ws endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexHTML)
	})
	return mux
}

// Start listens on addr in the background. The returned address is the one
// actually bound (useful with ":0").
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ui server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("ui server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

// Shutdown stops accepting connections and closes every client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		s.dropLocked(c)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Notify implements the scheduler's Subscriber. It never blocks.
func (s *Server) Notify(p types.Published) {
	id := ""
	if p.IdentityID != nil {
		id = *p.IdentityID
	}

	s.mu.Lock()
	changed := id != s.current || p.Outcome == types.Registered.String()
	s.current = id
	s.mu.Unlock()

	s.broadcast(Message{Type: TypeResult, Result: &p})
	if changed {
		s.broadcastView()
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) view() types.View {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	return s.config.Registry.View(current)
}

func (s *Server) broadcastView() {
	v := s.view()
	s.broadcast(Message{Type: TypeView, View: &v})
}

func (s *Server) broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode ui message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			// Slow client; it will resync from the next view.
			s.logger.Warn("ui client too slow, disconnecting", zap.String("remote", c.conn.RemoteAddr().String()))
			s.dropLocked(c)
		}
	}
}

func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("ui client connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(c)

	// New clients get the current state straight away.
	v := s.view()
	s.sendTo(c, Message{Type: TypeView, View: &v})

	s.readPump(c)
}

func (s *Server) sendTo(c *client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		s.dropLocked(c)
	}
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		s.dropLocked(c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var a Action
		if err := c.conn.ReadJSON(&a); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ui client read failed", zap.Error(err))
			}
			return
		}
		s.handleAction(c, a)
	}
}

func (s *Server) handleAction(c *client, a Action) {
	switch a.Action {
	case ActionToggle:
		if s.config.Registry.ToggleConversion(a.ID) {
			s.changed(a.ID)
		}
	case ActionDelete:
		if s.config.Registry.Delete(a.ID) {
			s.changed(a.ID)
		}
	case ActionView:
		v := s.view()
		s.sendTo(c, Message{Type: TypeView, View: &v})
	default:
		s.sendTo(c, Message{Type: TypeError, Error: "unknown action " + a.Action})
	}
}

func (s *Server) changed(id string) {
	if s.config.OnChange != nil {
		s.config.OnChange(id)
	}
	s.broadcastView()
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
