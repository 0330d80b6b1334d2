package supervisor

import (
	"errors"
	"testing"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/evdevcapture"
	"transwacom/internal/faults"
	"transwacom/internal/session"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := config.NewManagerAt(t.TempDir() + "/config.yaml")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sv
}

func TestListSessionsEmptyRegistry(t *testing.T) {
	sv := newTestSupervisor(t)
	if got := sv.ListSessions(); len(got) != 0 {
		t.Fatalf("ListSessions() = %v, want empty", got)
	}
}

func TestStopSessionUnknownIDReturnsNotFound(t *testing.T) {
	sv := newTestSupervisor(t)
	err := sv.StopSession("does-not-exist")
	var fe *faults.Error
	if !errors.As(err, &fe) {
		t.Fatalf("StopSession() = %v, want a *faults.Error", err)
	}
	if fe.Kind != faults.Config || !errors.Is(fe.Err, faults.ErrNotFound) {
		t.Fatalf("unexpected error: %+v", fe)
	}
}

func TestAcceptUnknownPromptIDReturnsNotFound(t *testing.T) {
	sv := newTestSupervisor(t)
	if err := sv.Accept("no-such-prompt", false); err == nil {
		t.Fatalf("Accept() on an unknown prompt should fail")
	}
}

func TestDeclineUnknownPromptIDReturnsNotFound(t *testing.T) {
	sv := newTestSupervisor(t)
	if err := sv.Decline("no-such-prompt"); err == nil {
		t.Fatalf("Decline() on an unknown prompt should fail")
	}
}

func TestShareUnknownDevicePathFailsWithoutRegisteringASession(t *testing.T) {
	sv := newTestSupervisor(t)
	_, err := sv.Share("/dev/input/event-does-not-exist", "127.0.0.1:9999")
	if err == nil {
		t.Fatalf("Share() with a nonexistent device path should fail")
	}
	if got := sv.ListSessions(); len(got) != 0 {
		t.Fatalf("Share() on failure must not register a session, got %v", got)
	}
}

// TestRegisterHostRejectsDuplicateDevicePath exercises the invariant that
// Share enforces (I1: at most one Session per local_device_path on a
// Host) at the level of registerHost directly, since Share itself starts
// with devicedetector.Describe against a real device node that a test
// can't fake.
func TestRegisterHostRejectsDuplicateDevicePath(t *testing.T) {
	sv := newTestSupervisor(t)
	dev := devicedetector.PhysicalDevice{Path: "/dev/input/event7", Kind: devicedetector.KindTablet}

	s1 := session.DialHost("sess-1", "127.0.0.1:9000", sv.cfg, dev, evdevcapture.Options{})
	if err := sv.registerHost(s1); err != nil {
		t.Fatalf("first registerHost: %v", err)
	}

	s2 := session.DialHost("sess-2", "127.0.0.1:9001", sv.cfg, dev, evdevcapture.Options{})
	err := sv.registerHost(s2)
	var fe *faults.Error
	if !errors.As(err, &fe) {
		t.Fatalf("registerHost() = %v, want a *faults.Error", err)
	}
	if fe.Kind != faults.Resource || !errors.Is(fe.Err, faults.ErrDeviceBusy) {
		t.Fatalf("unexpected error: %+v", fe)
	}
	if got := sv.ListSessions(); len(got) != 1 {
		t.Fatalf("duplicate registerHost must not register a second session, got %v", got)
	}
}

func TestListLocalDevicesNeverErrorsOnAMissingInputDir(t *testing.T) {
	sv := newTestSupervisor(t)
	if _, err := sv.ListLocalDevices(); err != nil {
		t.Fatalf("ListLocalDevices() = %v, want nil error (base spec §4.1: enumeration never fails)", err)
	}
}
