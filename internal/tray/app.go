package tray

import (
	"fmt"
	"log"
	"sync"

	"transwacom/internal/supervisor"
)

const maxPromptSlots = 6

// promptSlot is one pre-allocated pair of Accept/Decline menu entries.
// systray's menu can't grow dynamically once running, so a fixed pool of
// slots is shown/hidden as prompts arrive and resolve, the same tradeoff
// the teacher's static per-profile menu made.
type promptSlot struct {
	label   *MenuItem
	accept  *MenuItem
	decline *MenuItem
	inUse   bool
	id      string
}

// App wires a Supervisor's events onto a Tray: pending authorization
// prompts become Accept/Decline entries, and Quit stops the Supervisor.
type App struct {
	tray *Tray
	sv   *supervisor.Supervisor

	mu     sync.Mutex
	slots  [maxPromptSlots]promptSlot
	status *MenuItem
}

// NewApp builds the tray for sv. Call Run to block the process on the
// tray's event loop (mirrors Tray.Run's contract).
func NewApp(appName string, sv *supervisor.Supervisor) *App {
	a := &App{
		tray: New(appName, appName+" input sharing"),
		sv:   sv,
	}

	a.status = a.addItem("No active sessions", nil)
	a.tray.AddSeparator()
	for i := range a.slots {
		a.slots[i].label = a.addItem("", nil)
		a.slots[i].accept = a.addItem("  Accept", nil)
		a.slots[i].decline = a.addItem("  Decline", nil)
		a.hideSlot(i)
	}
	a.tray.AddSeparator()
	a.tray.AddMenuItem("Quit", func() {
		go sv.Stop()
		a.tray.Stop()
	})

	go a.pump()
	return a
}

func (a *App) addItem(title string, cb func()) *MenuItem {
	id := a.tray.AddMenuItem(title, cb)
	return a.tray.items[id]
}

// Run blocks until Quit is chosen or the process is signaled.
func (a *App) Run() { a.tray.Run() }

// Stop requests the tray event loop to exit.
func (a *App) Stop() { a.tray.Stop() }

func (a *App) hideSlot(i int) {
	s := &a.slots[i]
	s.inUse = false
	s.id = ""
	if s.label.item != nil {
		s.label.item.Hide()
		s.accept.item.Hide()
		s.decline.item.Hide()
	}
}

func (a *App) showSlot(i int, prompt *supervisor.Event) {
	s := &a.slots[i]
	s.inUse = true
	s.id = prompt.Prompt.ID
	if s.label.item != nil {
		s.label.item.SetTitle(fmt.Sprintf("%s wants to share a %s", prompt.Prompt.PeerName, prompt.Prompt.Kind))
		s.label.item.Show()
		s.accept.item.Show()
		s.decline.item.Show()
	}
}

// pump relays Supervisor events onto the tray menu. It runs for the life
// of the App; there is no explicit stop since it exits when sv.Events()
// closes (Supervisor.Stop does this).
func (a *App) pump() {
	for ev := range a.sv.Events() {
		switch ev.Type {
		case supervisor.EventAuthorizationPrompt:
			if ev.Prompt != nil {
				a.placePrompt(ev)
			}
		case supervisor.EventSessionStateChanged:
			a.refreshStatus()
			if ev.State == "closed" {
				a.clearPromptIfAny(ev.SessionID)
			}
		case supervisor.EventError:
			log.Printf("Tray: session %s error: %v", ev.SessionID, ev.Err)
		}
	}
}

func (a *App) placePrompt(ev supervisor.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		if !a.slots[i].inUse {
			a.showSlot(i, &ev)
			promptID := ev.Prompt.ID
			a.wireSlot(i, promptID)
			return
		}
	}
	log.Printf("Tray: no free prompt slot, auto-declining %s", ev.Prompt.PeerName)
	_ = a.sv.Decline(ev.Prompt.ID)
}

func (a *App) wireSlot(i int, promptID string) {
	a.slots[i].accept.Callback = func() {
		_ = a.sv.Accept(promptID, false)
		a.mu.Lock()
		a.hideSlot(i)
		a.mu.Unlock()
	}
	a.slots[i].decline.Callback = func() {
		_ = a.sv.Decline(promptID)
		a.mu.Lock()
		a.hideSlot(i)
		a.mu.Unlock()
	}
}

func (a *App) clearPromptIfAny(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		if a.slots[i].inUse && a.slots[i].id == sessionID {
			a.hideSlot(i)
		}
	}
}

func (a *App) refreshStatus() {
	sessions := a.sv.ListSessions()
	if a.status.item == nil {
		return
	}
	if len(sessions) == 0 {
		a.status.item.SetTitle("No active sessions")
		return
	}
	a.status.item.SetTitle(fmt.Sprintf("%d active session(s)", len(sessions)))
}
