package session

import (
	"context"
	"net"
	"time"

	"transwacom/internal/config"
	"transwacom/internal/faults"
	"transwacom/internal/virtualdevice"
	"transwacom/internal/wire"
)

// AcceptConsumer wraps an already-accepted inbound connection as a
// Consumer-role Session. The listener hands off conn as soon as it's
// accepted; Run drives the handshake from here.
func AcceptConsumer(id string, conn net.Conn, cfg *config.Manager) *Session {
	return newSession(id, RoleConsumer, cfg, conn)
}

func (s *Session) runConsumer(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeConn()

	s.setState(StateHandshaking)
	_ = s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msg, n, err := s.reader.ReadFrame()
	_ = s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.reportError(faults.New(faults.Protocol, "session.Handshake", err))
		s.setState(StateClosed)
		return
	}
	s.recordRecv(n)

	hs, ok := msg.(*wire.Handshake)
	if !ok {
		s.reportError(faults.New(faults.Protocol, "session.Handshake", faults.ErrProtocolType))
		s.setState(StateClosed)
		return
	}
	s.peerName = hs.HostName
	s.peerID = hs.HostID

	if wire.MajorVersion(hs.Version) != wire.MajorVersion(wire.ProtocolVersion) {
		// A major-version mismatch is a protocol violation, not a policy
		// refusal: the peer never gets an auth_response (base spec §9).
		s.reportError(faults.New(faults.Protocol, "session.Handshake", faults.ErrProtocolVersion).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}
	if len(hs.Devices) == 0 {
		s.reportError(faults.New(faults.Protocol, "session.Handshake", faults.ErrProtocolType).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}
	profile := hs.Devices[0]

	s.setState(StateAwaitingAuth)
	accepted, trust, reason := s.decideAuth(profile.Kind)
	resp := &wire.AuthResponse{Type: wire.TypeAuthResponse, Accepted: accepted}
	if accepted {
		resp.ConsumerName = s.localName
		resp.ConsumerID = s.localID
		if trust {
			if err := s.cfg.TrustHost(s.peerName, s.peerID, true); err != nil {
				s.reportError(faults.New(faults.Config, "session.AwaitingAuth", err).WithPeer(s.peerName))
			}
		}
	} else {
		resp.Reason = reason
	}
	if err := s.send(resp); err != nil {
		s.reportError(faults.New(faults.Transient, "session.AwaitingAuth", err).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}
	if !accepted {
		s.reportError(faults.New(faults.Refused, "session.AwaitingAuth", faults.ErrRefusedPolicy).WithPeer(s.peerName))
		s.setState(StateClosed)
		return
	}

	dev, err := virtualdevice.Create(profile, s.peerName, s.cfg.DeviceKindEnabled(profile.Kind))
	if err != nil {
		s.reportError(err)
		s.setState(StateDraining)
		s.drainAndClose("device_unavailable")
		s.setState(StateClosed)
		return
	}
	s.virtualDev = dev

	s.setState(StateStreaming)
	s.streamConsumer(ctx, profile.Kind)

	_ = s.virtualDev.Destroy()
	s.setState(StateDraining)
	s.drainAndClose("stop")
	s.setState(StateClosed)
}

// decideAuth implements base spec §4.7's authorization decision order:
// kind-disabled gate, then auto-accept policy, then an interactive prompt
// bounded by a 30s deadline.
func (s *Session) decideAuth(kind string) (accept, trust bool, reason string) {
	if !s.cfg.DeviceKindEnabled(kind) {
		return false, false, "kind_disabled"
	}
	if s.cfg.ShouldAutoAcceptHost(s.peerName, s.peerID) {
		return true, false, ""
	}

	deadline := time.Now().Add(authPromptDeadline)
	s.emit(Event{
		SessionID: s.ID,
		Type:      EventAuthorizationPrompt,
		Prompt: &AuthorizationPrompt{
			ID:       s.ID,
			PeerName: s.peerName,
			PeerID:   s.peerID,
			Kind:     kind,
			Deadline: deadline,
		},
	})

	select {
	case d := <-s.decisionCh:
		if !d.accept {
			return false, false, "declined"
		}
		return true, d.trust, ""
	case <-time.After(time.Until(deadline)):
		return false, false, "timeout"
	case <-s.stopCh:
		return false, false, "declined"
	}
}

func (s *Session) streamConsumer(ctx context.Context, deviceKind string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := s.readFrames(ctx)
	dead := s.livenessLoop(ctx, deviceKind)

	for {
		select {
		case <-s.stopCh:
			return
		case <-dead:
			s.reportError(faults.New(faults.Transient, "session.Streaming", faults.ErrLivenessTimeout).WithPeer(s.peerName))
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *wire.EventBatch:
				if err := s.virtualDev.Inject(m.Events); err != nil {
					s.reportError(faults.New(faults.Resource, "session.Streaming", err).WithPeer(s.peerName))
					return
				}
			case *wire.Bye:
				return
			}
		}
	}
}
