package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/evdevcapture"
	"transwacom/internal/faults"
	"transwacom/internal/wire"
)

func dialTestDevice() devicedetector.PhysicalDevice {
	return devicedetector.PhysicalDevice{
		Path:        "/dev/input/event0",
		Kind:        devicedetector.KindTablet,
		DisplayName: "Test Tablet",
	}
}

func evdevcaptureOptionsZero() evdevcapture.Options { return evdevcapture.Options{} }

func newTestConfig(t *testing.T) *config.Manager {
	t.Helper()
	m := config.NewManagerAt(t.TempDir() + "/config.yaml")
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

// drain discards every remaining event so a Session's internal emits never
// pile up against a full buffer while a test isn't reading them.
func drain(s *Session) {
	for range s.Events() {
	}
}

func TestRunConsumerRejectsMajorVersionMismatch(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cfg := newTestConfig(t)
	s := AcceptConsumer("s1", serverConn, cfg)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	if err := wire.Encode(clientConn, &wire.Handshake{
		Type:     wire.TypeHandshake,
		HostName: "HostA",
		HostID:   "host-1",
		Version:  "2.0",
		Devices:  []wire.CapabilityProfile{{Kind: "tablet"}},
	}); err != nil {
		t.Fatalf("Encode handshake: %v", err)
	}

	// The consumer must never answer a version mismatch with an
	// auth_response; it just hangs up.
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := wire.NewReader(clientConn).ReadFrame()
	if err == nil {
		t.Fatalf("expected the connection to close without a reply")
	}

	<-done
	if got := s.State(); got != StateClosed {
		t.Fatalf("State() = %s, want %s", got, StateClosed)
	}
}

func TestRunConsumerDeclinesDisabledKind(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	// "mouse" isn't one of the two recognized kinds, so
	// DeviceKindEnabled falls through its default case (disabled) without
	// needing to touch the config's device gate directly.
	cfg := newTestConfig(t)
	s := AcceptConsumer("s2", serverConn, cfg)

	go s.Run(context.Background())

	if err := wire.Encode(clientConn, &wire.Handshake{
		Type:     wire.TypeHandshake,
		HostName: "HostA",
		HostID:   "host-1",
		Version:  wire.ProtocolVersion,
		Devices:  []wire.CapabilityProfile{{Kind: "mouse"}},
	}); err != nil {
		t.Fatalf("Encode handshake: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := wire.NewReader(clientConn).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	resp, ok := msg.(*wire.AuthResponse)
	if !ok {
		t.Fatalf("got %T, want *wire.AuthResponse", msg)
	}
	if resp.Accepted {
		t.Fatalf("expected the response to refuse a disabled kind")
	}
	if resp.Reason != "kind_disabled" {
		t.Fatalf("Reason = %q, want kind_disabled", resp.Reason)
	}

	s.Stop()
}

func TestRunConsumerRaisesPromptWhenNoPolicyDecides(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cfg := newTestConfig(t)
	s := AcceptConsumer("s3", serverConn, cfg)

	go func() {
		if err := wire.Encode(clientConn, &wire.Handshake{
			Type:     wire.TypeHandshake,
			HostName: "HostA",
			HostID:   "host-1",
			Version:  wire.ProtocolVersion,
			Devices:  []wire.CapabilityProfile{{Kind: "tablet"}},
		}); err != nil {
			t.Errorf("Encode handshake: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	var prompt *AuthorizationPrompt
	for ev := range s.Events() {
		if ev.Type == EventAuthorizationPrompt {
			prompt = ev.Prompt
			break
		}
	}
	if prompt == nil {
		t.Fatalf("expected an authorization prompt")
	}
	if prompt.PeerName != "HostA" || prompt.Kind != "tablet" {
		t.Fatalf("unexpected prompt %+v", prompt)
	}

	s.Decide(false, false)

	go drain(s)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := wire.NewReader(clientConn).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	resp := msg.(*wire.AuthResponse)
	if resp.Accepted {
		t.Fatalf("expected a decline after Decide(false, false)")
	}

	<-done
}

func TestStopDuringPromptDeclines(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cfg := newTestConfig(t)
	s := AcceptConsumer("s4", serverConn, cfg)
	go s.Run(context.Background())

	go func() {
		_ = wire.Encode(clientConn, &wire.Handshake{
			Type:     wire.TypeHandshake,
			HostName: "HostA",
			HostID:   "host-1",
			Version:  wire.ProtocolVersion,
			Devices:  []wire.CapabilityProfile{{Kind: "joystick"}},
		})
	}()
	go drain(s)
	go func() {
		// Read and discard whatever auth_response eventually arrives so
		// the pipe doesn't block the session's send.
		clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = wire.NewReader(clientConn).ReadFrame()
	}()

	// Give runConsumer a moment to reach the prompt wait, then Stop.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if got := s.State(); got != StateClosed {
		t.Fatalf("State() = %s, want %s", got, StateClosed)
	}
}

func TestDialHostReportsDialFailure(t *testing.T) {
	cfg := newTestConfig(t)
	s := DialHost("h1", "127.0.0.1:1", cfg, dialTestDevice(), evdevcaptureOptionsZero())

	var gotErr error
	done := make(chan struct{})
	go func() {
		for ev := range s.Events() {
			if ev.Type == EventError {
				gotErr = ev.Err
			}
		}
		close(done)
	}()

	s.Run(context.Background())
	<-done

	var fe *faults.Error
	if !errors.As(gotErr, &fe) {
		t.Fatalf("expected a *faults.Error, got %v", gotErr)
	}
	if fe.Kind != faults.Transient {
		t.Fatalf("Kind = %s, want %s", fe.Kind, faults.Transient)
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("State() = %s, want %s", got, StateClosed)
	}
}

func TestRunHostRefusedByPolicyClosesWithoutCapture(t *testing.T) {
	cfg := newTestConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	// DialHost dials a real address, so script the peer's replies over
	// the listener's accepted connection directly.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		msg, _, err := wire.NewReader(conn).ReadFrame()
		if err != nil {
			t.Errorf("ReadFrame handshake: %v", err)
			return
		}
		if _, ok := msg.(*wire.Handshake); !ok {
			t.Errorf("got %T, want *wire.Handshake", msg)
			return
		}
		_ = wire.Encode(conn, &wire.AuthResponse{
			Type:         wire.TypeAuthResponse,
			Accepted:     false,
			ConsumerName: "ConsumerB",
			ConsumerID:   "consumer-1",
			Reason:       "declined",
		})
	}()

	s := DialHost("h2", ln.Addr().String(), cfg, dialTestDevice(), evdevcaptureOptionsZero())

	var gotErr error
	done := make(chan struct{})
	go func() {
		for ev := range s.Events() {
			if ev.Type == EventError {
				gotErr = ev.Err
			}
		}
		close(done)
	}()

	s.Run(context.Background())
	<-done

	var fe *faults.Error
	if !errors.As(gotErr, &fe) || fe.Kind != faults.Refused {
		t.Fatalf("expected a Refused fault, got %v", gotErr)
	}
	if s.PeerName() != "ConsumerB" {
		t.Fatalf("PeerName() = %q, want ConsumerB", s.PeerName())
	}
}
