package tray

import (
	"testing"

	"transwacom/internal/config"
	"transwacom/internal/session"
	"transwacom/internal/supervisor"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.NewManagerAt(t.TempDir() + "/config.yaml")
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sv, err := supervisor.New(cfg)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	t.Cleanup(sv.Stop)
	return NewApp("Test", sv)
}

// The tray's own systray.MenuItem handles are only populated once a live
// tray event loop runs setupMenu, which these tests never start; every
// slot/status mutation here exercises the guard that no-ops until then.

func TestPlacePromptFillsAFreeSlot(t *testing.T) {
	a := newTestApp(t)
	ev := supervisor.Event{
		Type:      supervisor.EventAuthorizationPrompt,
		SessionID: "sess-1",
		Prompt: &session.AuthorizationPrompt{
			ID:       "sess-1",
			PeerName: "HostA",
			Kind:     "tablet",
		},
	}

	a.placePrompt(ev)

	a.mu.Lock()
	defer a.mu.Unlock()
	found := false
	for _, s := range a.slots {
		if s.inUse && s.id == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a slot to be claimed for sess-1, got %+v", a.slots)
	}
}

func TestPlacePromptAutoDeclinesWhenAllSlotsAreFull(t *testing.T) {
	a := newTestApp(t)
	for i := 0; i < maxPromptSlots; i++ {
		a.placePrompt(supervisor.Event{
			SessionID: "sess",
			Prompt: &session.AuthorizationPrompt{
				ID:       string(rune('a' + i)),
				PeerName: "HostA",
				Kind:     "tablet",
			},
		})
	}

	// One more than the pool holds: since every slot is claimed, this
	// call must fall through to auto-decline rather than panic on a
	// missing slot.
	a.placePrompt(supervisor.Event{
		SessionID: "sess-overflow",
		Prompt: &session.AuthorizationPrompt{
			ID:       "overflow",
			PeerName: "HostB",
			Kind:     "joystick",
		},
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slots {
		if s.id == "overflow" {
			t.Fatalf("overflow prompt should not have claimed a slot")
		}
	}
}

func TestClearPromptIfAnyFreesTheMatchingSlot(t *testing.T) {
	a := newTestApp(t)
	a.placePrompt(supervisor.Event{
		SessionID: "sess-2",
		Prompt: &session.AuthorizationPrompt{
			ID:       "sess-2",
			PeerName: "HostA",
			Kind:     "tablet",
		},
	})

	a.clearPromptIfAny("sess-2")

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slots {
		if s.id == "sess-2" {
			t.Fatalf("slot for sess-2 should have been cleared")
		}
	}
}

func TestWiredAcceptCallbackFreesItsSlot(t *testing.T) {
	a := newTestApp(t)
	a.placePrompt(supervisor.Event{
		SessionID: "sess-3",
		Prompt: &session.AuthorizationPrompt{
			ID:       "sess-3",
			PeerName: "HostA",
			Kind:     "tablet",
		},
	})

	var cb func()
	a.mu.Lock()
	for i := range a.slots {
		if a.slots[i].id == "sess-3" {
			cb = a.slots[i].accept.Callback
		}
	}
	a.mu.Unlock()
	if cb == nil {
		t.Fatalf("expected the accept callback to be wired")
	}

	// Accept targets a prompt ID the Supervisor never registered, so the
	// call fails, but the slot must still free up.
	cb()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slots {
		if s.id == "sess-3" {
			t.Fatalf("slot for sess-3 should have been freed after Accept")
		}
	}
}

func TestRefreshStatusIsSafeBeforeTheTrayIsRunning(t *testing.T) {
	a := newTestApp(t)
	// status.item is nil until setupMenu runs; refreshStatus must not
	// panic dereferencing it.
	a.refreshStatus()
}
