package session

import (
	"context"
	"log"
	"net"
	"time"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/evdevcapture"
	"transwacom/internal/faults"
	"transwacom/internal/wire"
)

// DialHost constructs a Host-role Session that will dial targetAddr and
// offer device once Run is called. The id is caller-supplied (the
// Supervisor mints it via google/uuid) so it can be known before the
// connection exists, e.g. to answer share() synchronously.
func DialHost(id, targetAddr string, cfg *config.Manager, device devicedetector.PhysicalDevice, opts evdevcapture.Options) *Session {
	s := newSession(id, RoleHost, cfg, nil)
	s.device = device
	s.opts = opts
	s.targetAddr = targetAddr
	return s
}

// Run drives the Session to completion (state Closed) and closes doneCh.
// It blocks until the session ends, either because the peer said bye,
// the link went silent, or Stop was called; callers normally run it in
// its own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer close(s.doneCh)
	// runHost/runConsumer always close the conn (via drainAndClose or their
	// deferred closeConn) before returning, so by the time bgWG.Wait unblocks, readFrames has already
	// seen its read error and made its last reportError call, if any.
	defer func() {
		s.bgWG.Wait()
		close(s.events)
	}()
	if s.Role == RoleHost {
		s.runHost(ctx)
	} else {
		s.runConsumer(ctx)
	}
}

func (s *Session) runHost(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateDialing)
	conn, err := net.DialTimeout("tcp", s.targetAddr, handshakeTimeout)
	if err != nil {
		s.reportError(faults.New(faults.Transient, "session.Dial", err))
		s.setState(StateClosed)
		return
	}
	s.conn = conn
	s.reader = wire.NewReader(conn)
	defer s.closeConn()

	s.setState(StateHandshaking)
	hs := &wire.Handshake{
		Type:     wire.TypeHandshake,
		HostName: s.localName,
		HostID:   s.localID,
		Version:  wire.ProtocolVersion,
		Devices:  []wire.CapabilityProfile{s.device.ToCapabilityProfile()},
	}
	if err := s.send(hs); err != nil {
		s.reportError(faults.New(faults.Transient, "session.Handshake", err))
		s.setState(StateClosed)
		return
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msg, n, err := s.reader.ReadFrame()
	_ = s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.reportError(faults.New(faults.Protocol, "session.Handshake", err))
		s.setState(StateClosed)
		return
	}
	s.recordRecv(n)

	resp, ok := msg.(*wire.AuthResponse)
	if !ok {
		s.reportError(faults.New(faults.Protocol, "session.Handshake", faults.ErrProtocolType))
		s.setState(StateClosed)
		return
	}

	s.setState(StateAwaitingAuth)
	s.peerName = resp.ConsumerName
	s.peerID = resp.ConsumerID
	if !resp.Accepted {
		s.reportError(faults.New(faults.Refused, "session.AwaitingAuth", faults.ErrRefusedPolicy).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}

	// A Consumer this Host has previously recorded an allow-list for is
	// held to it even if that Consumer's own policy said yes; a Consumer
	// the Host has never seen before is trusted to the Consumer's own
	// decision (there is nothing on file to restrict it against).
	if s.cfg.IsTrustedConsumer(s.peerName, s.peerID) && !s.cfg.AllowedForConsumer(s.peerName, s.peerID, string(s.device.Kind)) {
		s.reportError(faults.New(faults.Refused, "session.AwaitingAuth", faults.ErrRefusedPolicy).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}

	s.setState(StateStreaming)
	if err := s.startCapture(); err != nil {
		s.reportError(err)
		s.setState(StateDraining)
		s.drainAndClose("capture_failed")
		s.setState(StateClosed)
		return
	}

	s.streamHost(ctx)

	if s.capture != nil {
		s.capture.Stop()
	}
	s.setState(StateDraining)
	s.drainAndClose("stop")
	s.setState(StateClosed)
}

func (s *Session) startCapture() error {
	sink := func(deviceType string, batch []wire.Event) error {
		return s.send(&wire.EventBatch{Type: wire.TypeEvent, DeviceType: deviceType, Events: batch})
	}
	capt, err := evdevcapture.Start(s.device, sink, s.opts)
	if err != nil {
		return err
	}
	s.capture = capt
	return nil
}

// streamHost blocks for the duration of the Streaming state: it watches
// the capture's error channel, the peer's frames (expecting only bye),
// liveness, and an external Stop.
func (s *Session) streamHost(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := s.readFrames(ctx)
	dead := s.livenessLoop(ctx, string(s.device.Kind))

	for {
		select {
		case <-s.stopCh:
			return
		case <-dead:
			s.reportError(faults.New(faults.Transient, "session.Streaming", faults.ErrLivenessTimeout).WithPeer(s.peerName))
			return
		case err, ok := <-s.capture.Errors():
			if !ok {
				return
			}
			s.reportError(err)
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			if _, isBye := msg.(*wire.Bye); isBye {
				return
			}
			log.Printf("Session %s: unexpected frame from consumer %s, ignoring", s.ID, s.peerName)
		}
	}
}
