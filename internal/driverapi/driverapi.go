// Package driverapi exposes the Supervisor to a UI collaborator over a
// local WebSocket, one event hub broadcasting to every connected client
// plus a handful of JSON-RPC-ish commands. Directly grounded on the
// teacher's internal/api/websocket.go WSManager (register/unregister/
// broadcast channels, readPump/writePump per client).
package driverapi

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transwacom/internal/supervisor"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local-only tool
}

// command is a request the UI sends over the socket.
type command struct {
	Type       string `json:"type"`
	DevicePath string `json:"device_path,omitempty"`
	Address    string `json:"address,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	PromptID   string `json:"prompt_id,omitempty"`
	Trust      bool   `json:"trust,omitempty"`
}

// reply is a response to one command, or an asynchronous Supervisor event
// relayed verbatim; the UI distinguishes by the "type" field.
type reply struct {
	Type     string                   `json:"type"`
	OK       bool                     `json:"ok,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Devices  any                      `json:"devices,omitempty"`
	Peers    any                      `json:"peers,omitempty"`
	Sessions []supervisor.SessionInfo `json:"sessions,omitempty"`
	Event    *supervisor.Event        `json:"event,omitempty"`
}

// Server hosts the /ws endpoint and fans Supervisor events out to every
// connected client.
type Server struct {
	sv *supervisor.Supervisor

	clientsMu sync.RWMutex
	clients   map[*client]bool

	register   chan *client
	unregister chan *client
	shutdown   chan struct{}

	httpServer *http.Server
}

type client struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte
}

// NewServer builds a driver API bound to sv. Call Start to listen.
func NewServer(sv *supervisor.Supervisor) *Server {
	return &Server{
		sv:         sv,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}
}

// Start listens on addr (e.g. "127.0.0.1:7790") and begins relaying
// Supervisor events. It returns once listening; Stop tears it down.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	go s.hub()
	go s.relaySupervisorEvents()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("driverapi: serve error: %v", err)
		}
	}()
	return nil
}

// Stop closes every client connection and shuts down the listener.
func (s *Server) Stop() {
	close(s.shutdown)
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
}

func (s *Server) hub() {
	for {
		select {
		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c] = true
			s.clientsMu.Unlock()
		case c := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
			s.clientsMu.Unlock()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Server) relaySupervisorEvents() {
	for ev := range s.sv.Events() {
		ev := ev
		s.broadcast(reply{Type: "event", Event: &ev})
	}
}

func (s *Server) broadcast(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Printf("driverapi: marshal broadcast: %v", err)
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("driverapi: client send buffer full, dropping")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("driverapi: upgrade failed: %v", err)
		return
	}
	c := &client{srv: s, conn: conn, send: make(chan []byte, 64)}
	s.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.srv.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleCommand(data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (c *client) handleCommand(data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply(reply{Type: "error", Error: "malformed command"})
		return
	}

	switch cmd.Type {
	case "list_local_devices":
		devices, err := c.srv.sv.ListLocalDevices()
		if err != nil {
			c.reply(reply{Type: "list_local_devices", OK: false, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "list_local_devices", OK: true, Devices: devices})

	case "list_discovered_consumers":
		c.reply(reply{Type: "list_discovered_consumers", OK: true, Peers: c.srv.sv.ListDiscoveredConsumers()})

	case "list_sessions":
		c.reply(reply{Type: "list_sessions", OK: true, Sessions: c.srv.sv.ListSessions()})

	case "share":
		id, err := c.srv.sv.Share(cmd.DevicePath, cmd.Address)
		if err != nil {
			c.reply(reply{Type: "share", OK: false, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "share", OK: true, Sessions: []supervisor.SessionInfo{{ID: id}}})

	case "stop":
		if err := c.srv.sv.StopSession(cmd.SessionID); err != nil {
			c.reply(reply{Type: "stop", OK: false, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "stop", OK: true})

	case "accept":
		if err := c.srv.sv.Accept(cmd.PromptID, cmd.Trust); err != nil {
			c.reply(reply{Type: "accept", OK: false, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "accept", OK: true})

	case "decline":
		if err := c.srv.sv.Decline(cmd.PromptID); err != nil {
			c.reply(reply{Type: "decline", OK: false, Error: err.Error()})
			return
		}
		c.reply(reply{Type: "decline", OK: true})

	default:
		c.reply(reply{Type: "error", Error: "unknown command: " + cmd.Type})
	}
}

func (c *client) reply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
