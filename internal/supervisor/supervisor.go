// Package supervisor composes the device detector, discovery scanner,
// config/trust store, and session engine into the single registry the
// driver API and tray UI talk to (base spec §4.8). The registry-plus-
// broadcast-event-channel shape is grounded on the teacher's switcher.go,
// which owns one WSClient per peer and fans its own lifecycle out as log
// lines; here that fan-out becomes a typed Event channel instead.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/discovery"
	"transwacom/internal/evdevcapture"
	"transwacom/internal/faults"
	"transwacom/internal/session"
)

// EventType mirrors the categories the driver API exposes to the UI
// (base spec §4.8).
type EventType string

const (
	EventSessionStateChanged EventType = "session_state_changed"
	EventAuthorizationPrompt EventType = "authorization_prompt"
	EventDeviceArrived       EventType = "device_arrived"
	EventDeviceDeparted      EventType = "device_departed"
	EventError               EventType = "error"
)

// Event is one notification the Supervisor publishes for collaborators
// (driverapi, tray) to relay onward.
type Event struct {
	Type      EventType
	SessionID string
	State     session.State
	Prompt    *session.AuthorizationPrompt
	Device    *devicedetector.PhysicalDevice
	Err       error
}

// SessionInfo is the read-only view list_sessions() returns.
type SessionInfo struct {
	ID       string
	Role     session.Role
	PeerName string
	PeerID   string
	State    session.State
	BytesIn  int64
	BytesOut int64
}

// Supervisor is the single process-wide registry described by base spec
// §4.8. Construct with New, then call Start/Stop around its lifetime.
type Supervisor struct {
	cfg       *config.Manager
	publisher *discovery.Publisher
	scanner   *discovery.Scanner
	listener  net.Listener

	events chan Event

	mu       sync.Mutex
	sessions map[string]*session.Session
	prompts  map[string]string // prompt id -> session id

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor bound to cfg. It does not open any sockets or
// start the mDNS scanner until Start is called.
func New(cfg *config.Manager) (*Supervisor, error) {
	_, machineID := cfg.Identity()
	scanner, err := discovery.NewScanner(machineID, nil)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	return &Supervisor{
		cfg:      cfg,
		publisher: discovery.NewPublisher(nil),
		scanner:  scanner,
		events:   make(chan Event, 64),
		sessions: make(map[string]*session.Session),
		prompts:  make(map[string]string),
	}, nil
}

// Events yields Supervisor-level notifications for the driver API/tray.
func (sv *Supervisor) Events() <-chan Event { return sv.events }

// Start opens the inbound listener, publishes mDNS presence, and begins
// scanning for peer consumers. It returns once the listener is bound so
// the caller can surface bind failures (base spec §6 exit code 3).
func (sv *Supervisor) Start(ctx context.Context) error {
	sv.ctx, sv.cancel = context.WithCancel(sv.ctx_or(ctx))

	port := sv.cfg.ListenPort()
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if os.IsPermission(err) {
			return faults.New(faults.Permission, "supervisor.Start", err)
		}
		return faults.New(faults.Resource, "supervisor.Start", err)
	}
	sv.listener = ln

	name, id := sv.cfg.Identity()
	caps := []string{"tablet", "joystick"}
	if err := sv.publisher.Publish(discovery.Identity{
		MachineName:  name,
		MachineID:    id,
		Port:         port,
		Capabilities: caps,
	}); err != nil {
		log.Printf("Supervisor: mDNS publish failed, continuing without discovery: %v", err)
	}

	sv.scanner.Start()

	sv.wg.Add(2)
	go sv.acceptLoop()
	go sv.forwardDiscoveryEvents()

	return nil
}

func (sv *Supervisor) ctx_or(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Stop tears everything down: the listener, every live session, the
// scanner, and the mDNS publisher, waiting for goroutines to exit.
func (sv *Supervisor) Stop() {
	if sv.cancel != nil {
		sv.cancel()
	}
	if sv.listener != nil {
		_ = sv.listener.Close()
	}
	sv.scanner.Stop()
	sv.publisher.Stop()

	sv.mu.Lock()
	sessions := make([]*session.Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
	sv.wg.Wait()
	close(sv.events)
}

func (sv *Supervisor) emit(e Event) {
	select {
	case sv.events <- e:
	default:
		log.Printf("Supervisor: event channel full, dropping %s", e.Type)
	}
}

// ListLocalDevices enumerates this machine's shareable input devices
// (base spec §4.8, list_local_devices).
func (sv *Supervisor) ListLocalDevices() ([]devicedetector.PhysicalDevice, error) {
	return devicedetector.Enumerate()
}

// ListDiscoveredConsumers returns the peers currently visible over mDNS.
func (sv *Supervisor) ListDiscoveredConsumers() []discovery.DiscoveredConsumer {
	return sv.scanner.ListConsumers()
}

// ListSessions returns a snapshot of every session in the registry,
// sorted by ID for stable CLI/UI output.
func (sv *Supervisor) ListSessions() []SessionInfo {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]SessionInfo, 0, len(sv.sessions))
	for id, s := range sv.sessions {
		out = append(out, SessionInfo{
			ID:       id,
			Role:     s.Role,
			PeerName: s.PeerName(),
			PeerID:   s.PeerID(),
			State:    s.State(),
			BytesIn:  s.BytesIn(),
			BytesOut: s.BytesOut(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Share starts a Host-role session offering devicePath to the consumer
// at address (host:port), returning the new session's ID immediately;
// the dial and handshake run asynchronously (base spec §4.8, share()).
func (sv *Supervisor) Share(devicePath, address string) (string, error) {
	dev, err := devicedetector.Describe(devicePath)
	if err != nil {
		return "", err
	}
	opts := evdevcapture.Options{
		RelativeMode: sv.cfg.RelativeModeEnabled(),
		DisableLocal: sv.cfg.DisableLocalEnabled(),
	}
	id := uuid.NewString()
	s := session.DialHost(id, address, sv.cfg, dev, opts)
	if err := sv.registerHost(s); err != nil {
		return "", err
	}
	sv.runSession(s)
	return id, nil
}

// StopSession cancels one session by ID (base spec §4.8, stop()).
func (sv *Supervisor) StopSession(id string) error {
	sv.mu.Lock()
	s, ok := sv.sessions[id]
	sv.mu.Unlock()
	if !ok {
		return faults.New(faults.Config, "supervisor.StopSession", faults.ErrNotFound)
	}
	s.Stop()
	return nil
}

// Accept resolves an outstanding AuthorizationPrompt in the affirmative.
func (sv *Supervisor) Accept(promptID string, trust bool) error {
	return sv.resolvePrompt(promptID, true, trust)
}

// Decline resolves an outstanding AuthorizationPrompt in the negative.
func (sv *Supervisor) Decline(promptID string) error {
	return sv.resolvePrompt(promptID, false, false)
}

func (sv *Supervisor) resolvePrompt(promptID string, accept, trust bool) error {
	sv.mu.Lock()
	sid, ok := sv.prompts[promptID]
	var s *session.Session
	if ok {
		s = sv.sessions[sid]
	}
	sv.mu.Unlock()
	if !ok || s == nil {
		return faults.New(faults.Config, "supervisor.resolvePrompt", faults.ErrNotFound)
	}
	s.Decide(accept, trust)
	return nil
}

func (sv *Supervisor) register(s *session.Session) {
	sv.mu.Lock()
	sv.sessions[s.ID] = s
	sv.mu.Unlock()
}

// registerHost registers s only if no other Host session already claims
// the same device path, checking and inserting under a single sv.mu
// critical section so two concurrent Share calls for the same path can't
// both win the race (base spec invariant I1: at most one Session per
// local_device_path on a Host).
func (sv *Supervisor) registerHost(s *session.Session) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, existing := range sv.sessions {
		if existing.Role == session.RoleHost && existing.DevicePath() == s.DevicePath() {
			return faults.New(faults.Resource, "supervisor.Share", faults.ErrDeviceBusy)
		}
	}
	sv.sessions[s.ID] = s
	return nil
}

func (sv *Supervisor) unregister(id string) {
	sv.mu.Lock()
	delete(sv.sessions, id)
	for pid, sid := range sv.prompts {
		if sid == id {
			delete(sv.prompts, pid)
		}
	}
	sv.mu.Unlock()
}

// runSession relays one session's Events onto the Supervisor's channel
// and runs it to completion, deregistering it on exit.
func (sv *Supervisor) runSession(s *session.Session) {
	sv.wg.Add(2)
	go func() {
		defer sv.wg.Done()
		for ev := range s.Events() {
			switch ev.Type {
			case session.EventStateChanged:
				sv.emit(Event{Type: EventSessionStateChanged, SessionID: ev.SessionID, State: ev.State})
			case session.EventAuthorizationPrompt:
				if ev.Prompt != nil {
					sv.mu.Lock()
					sv.prompts[ev.Prompt.ID] = ev.SessionID
					sv.mu.Unlock()
				}
				sv.emit(Event{Type: EventAuthorizationPrompt, SessionID: ev.SessionID, Prompt: ev.Prompt})
			case session.EventError:
				sv.emit(Event{Type: EventError, SessionID: ev.SessionID, Err: ev.Err})
			}
		}
	}()
	go func() {
		defer sv.wg.Done()
		s.Run(sv.ctx)
		sv.unregister(s.ID)
	}()
}

func (sv *Supervisor) acceptLoop() {
	defer sv.wg.Done()
	for {
		conn, err := sv.listener.Accept()
		if err != nil {
			select {
			case <-sv.ctx.Done():
				return
			default:
				log.Printf("Supervisor: accept error: %v", err)
				return
			}
		}
		id := uuid.NewString()
		s := session.AcceptConsumer(id, conn, sv.cfg)
		sv.register(s)
		sv.runSession(s)
	}
}

func (sv *Supervisor) forwardDiscoveryEvents() {
	defer sv.wg.Done()
	for {
		select {
		case <-sv.ctx.Done():
			return
		case ev, ok := <-sv.scanner.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case discovery.EventConsumerUpserted:
				log.Printf("Supervisor: consumer %s (%s) visible", ev.Consumer.Name, ev.Consumer.Address)
			case discovery.EventConsumerRemoved:
				log.Printf("Supervisor: consumer %s gone", ev.Consumer.Name)
			}
		}
	}
}
