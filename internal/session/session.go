// Package session implements the per-connection state machine from base
// spec §4.7: Dialing (Host only), Handshaking, AwaitingAuth, Streaming,
// Draining, to Closed, parameterized by role. The reconnect-free
// per-connection read/write pump split is grounded on the teacher's
// ws_client.go readPump/writePump pair, adapted from a WebSocket client
// loop into a raw-TCP newline-JSON session.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/evdevcapture"
	"transwacom/internal/virtualdevice"
	"transwacom/internal/wire"
)

// Role parameterizes which side of the protocol a Session drives.
type Role string

const (
	RoleHost     Role = "host"
	RoleConsumer Role = "consumer"
)

// State is one node of the table in base spec §4.7.
type State string

const (
	StateDialing      State = "dialing"
	StateHandshaking  State = "handshaking"
	StateAwaitingAuth State = "awaiting_auth"
	StateStreaming    State = "streaming"
	StateDraining     State = "draining"
	StateClosed       State = "closed"
)

const (
	handshakeTimeout   = 10 * time.Second
	authPromptDeadline = 30 * time.Second
	drainGrace         = 100 * time.Millisecond
	livenessTick       = 1 * time.Second
	sendIdleThreshold  = 2 * time.Second
	recvIdleThreshold  = 5 * time.Second
	recvDeadThreshold  = 10 * time.Second
)

// EventType identifies one asynchronous notification a Session raises for
// the Supervisor to relay to the UI (base spec §4.8).
type EventType string

const (
	EventStateChanged        EventType = "state_changed"
	EventAuthorizationPrompt EventType = "authorization_prompt"
	EventError               EventType = "error"
)

// AuthorizationPrompt is raised by a Consumer session when no policy
// auto-accepts the peer (base spec §4.7).
type AuthorizationPrompt struct {
	ID       string
	PeerName string
	PeerID   string
	Kind     string
	Deadline time.Time
}

// Event is what a Session publishes on its Events channel.
type Event struct {
	SessionID string
	Type      EventType
	State     State
	Err       error
	Prompt    *AuthorizationPrompt
}

// decision is what the UI collaborator returns for an AuthorizationPrompt.
type decision struct {
	accept bool
	trust  bool
}

// Session is one live cross-machine input stream (base spec §3).
type Session struct {
	ID   string
	Role Role
	cfg  *config.Manager

	localName string
	localID   string

	conn   net.Conn
	reader *wire.Reader

	events chan Event

	mu    sync.Mutex
	state State

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	lastRecvAt atomic.Int64 // unix nanos
	lastSentAt atomic.Int64

	decisionCh chan decision

	// bgWG tracks the readFrames goroutine so Run can wait for it to
	// finish touching events before closing it: it can outlive the select
	// loop that spawned it, since a blocked conn read only returns once
	// drainAndClose closes the socket, which happens after that loop
	// returns.
	bgWG sync.WaitGroup

	// Host-role fields.
	targetAddr string
	device     devicedetector.PhysicalDevice
	opts       evdevcapture.Options
	capture    *evdevcapture.Capture

	// Consumer-role fields.
	virtualDev *virtualdevice.VirtualDevice
	peerName   string
	peerID     string
}

// PeerName/PeerID/BytesIn/BytesOut/State are read by the Supervisor for
// list_sessions() without reaching into Session internals.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PeerName() string { return s.peerName }
func (s *Session) PeerID() string   { return s.peerID }
func (s *Session) BytesIn() int64   { return s.bytesIn.Load() }
func (s *Session) BytesOut() int64  { return s.bytesOut.Load() }

// DevicePath returns the local device path this Host session is sharing.
// Empty for Consumer-role sessions, which never populate device.
func (s *Session) DevicePath() string { return s.device.Path }

// Events yields this Session's asynchronous notifications.
func (s *Session) Events() <-chan Event { return s.events }

func newSession(id string, role Role, cfg *config.Manager, conn net.Conn) *Session {
	name, mid := cfg.Identity()
	s := &Session{
		ID:         id,
		Role:       role,
		cfg:        cfg,
		localName:  name,
		localID:    mid,
		conn:       conn,
		events:     make(chan Event, 32),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		decisionCh: make(chan decision, 1),
		state:      StateDialing,
	}
	if conn != nil {
		s.reader = wire.NewReader(conn)
	}
	now := time.Now().UnixNano()
	s.lastRecvAt.Store(now)
	s.lastSentAt.Store(now)
	return s
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(Event{SessionID: s.ID, Type: EventStateChanged, State: st})
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		log.Printf("Session %s: event channel full, dropping %s", s.ID, e.Type)
	}
}

func (s *Session) reportError(err error) {
	s.emit(Event{SessionID: s.ID, Type: EventError, Err: err})
}

// Stop requests teardown and waits for Run to return. Safe to call
// multiple times. The request is observed in the Streaming state, which
// then passes through Draining to Closed, and while a Consumer waits on an
// authorization prompt, which then refuses with reason "declined" and
// closes. Dialing and the handshake exchange do not observe it: they run
// to completion or to their timeout first.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// Decide resolves an outstanding AuthorizationPrompt raised by this
// Consumer session. Calling it with no prompt outstanding is a silent
// no-op (the channel is buffered 1 and abandoned decisions are harmless).
func (s *Session) Decide(accept, trust bool) {
	select {
	case s.decisionCh <- decision{accept: accept, trust: trust}:
	default:
	}
}

func (s *Session) send(msg any) error {
	if err := wire.Encode(s.conn, msg); err != nil {
		return err
	}
	s.lastSentAt.Store(time.Now().UnixNano())
	return nil
}

func (s *Session) recordRecv(n int) {
	s.bytesIn.Add(int64(n))
	s.lastRecvAt.Store(time.Now().UnixNano())
}

// readFrames continuously decodes frames from conn and pushes them on out
// until an error or ctx cancellation. It never blocks Stop(): a read error
// closes out and returns.
func (s *Session) readFrames(ctx context.Context) <-chan any {
	out := make(chan any)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		defer close(out)
		for {
			msg, n, err := s.reader.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.reportError(err)
				}
				return
			}
			s.recordRecv(n)
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// livenessLoop implements base spec §4.7's Streaming-state liveness rule
// and returns a channel that is closed once 10s pass with no inbound byte.
func (s *Session) livenessLoop(ctx context.Context, keepaliveDeviceType string) <-chan struct{} {
	dead := make(chan struct{})
	go func() {
		defer close(dead)
		ticker := time.NewTicker(livenessTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				sinceRecv := now.Sub(time.Unix(0, s.lastRecvAt.Load()))
				sinceSent := now.Sub(time.Unix(0, s.lastSentAt.Load()))
				if sinceRecv >= recvDeadThreshold {
					return
				}
				if sinceRecv >= recvIdleThreshold && sinceSent >= sendIdleThreshold {
					_ = s.send(&wire.EventBatch{Type: wire.TypeEvent, DeviceType: keepaliveDeviceType, Events: nil})
				}
			}
		}
	}()
	return dead
}

// closeConn closes the underlying connection, tolerating it already being closed.
func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// drainAndClose sends bye (best-effort) then closes the socket, giving any
// in-flight write a short grace period (base spec §4.7, Draining state).
func (s *Session) drainAndClose(reason string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.send(&wire.Bye{Type: wire.TypeBye, Reason: reason})
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
	}
	s.closeConn()
}
