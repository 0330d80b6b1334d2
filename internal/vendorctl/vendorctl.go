// Package vendorctl drives xsetwacom/xinput to read and change a tablet's
// mode and local-enablement state, the way host_input.py's WacomController
// does it. It never tracks a session's restoration stack itself — that
// bookkeeping belongs to the Host capture package (base spec §4.5 /
// §9 "with-block style restoration"); vendorctl only executes one command
// at a time and reports what it observed.
package vendorctl

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

const (
	ModeAbsolute = "Absolute"
	ModeRelative = "Relative"
)

// idCache remembers a device path's resolved xsetwacom/xinput identifier so
// repeated lookups during a long-lived session don't re-shell out (base
// spec supplemented feature: vendor device-id caching).
var (
	idCacheMu sync.Mutex
	idCache   = map[string]string{}
)

// LookupID resolves the xsetwacom/xinput device identifier for a physical
// device, trying xsetwacom first and falling back to xinput, mirroring
// WacomController.get_device_id. Absence is reported via ok=false, which
// callers must treat as "no vendor control available", not an error.
func LookupID(devicePath, deviceName string) (id string, ok bool) {
	idCacheMu.Lock()
	if cached, hit := idCache[devicePath]; hit {
		idCacheMu.Unlock()
		return cached, true
	}
	idCacheMu.Unlock()

	if id, ok := lookupViaXsetwacom(devicePath); ok {
		idCacheMu.Lock()
		idCache[devicePath] = id
		idCacheMu.Unlock()
		return id, true
	}
	if id, ok := lookupViaXinput(deviceName); ok {
		idCacheMu.Lock()
		idCache[devicePath] = id
		idCacheMu.Unlock()
		return id, true
	}
	return "", false
}

// ForgetID drops a cached identifier, so the next LookupID for that path
// resolves it again (for a device that reappears with the same path but
// possibly a different X input id).
func ForgetID(devicePath string) {
	idCacheMu.Lock()
	delete(idCache, devicePath)
	idCacheMu.Unlock()
}

func lookupViaXsetwacom(devicePath string) (string, bool) {
	out, err := exec.Command("xsetwacom", "--list", "devices").Output()
	if err != nil {
		return "", false
	}
	base := devicePath
	if i := strings.LastIndex(devicePath, "/"); i >= 0 {
		base = devicePath[i+1:]
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, base) && !strings.Contains(line, "event") {
			continue
		}
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "id:" && i+1 < len(fields) {
				return fields[i+1], true
			}
		}
	}
	return "", false
}

func lookupViaXinput(deviceName string) (string, bool) {
	out, err := exec.Command("xinput", "list", "--name-only").Output()
	if err != nil {
		return "", false
	}
	lower := strings.ToLower(deviceName)
	for _, line := range strings.Split(string(out), "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "wacom") || strings.Contains(l, "pen") || strings.Contains(l, lower) {
			if name := strings.TrimSpace(line); name != "" {
				return name, true
			}
		}
	}
	return "", false
}

// GetMode reads the current xsetwacom Mode property for id.
func GetMode(id string) (string, error) {
	out, err := exec.Command("xsetwacom", "--get", id, "Mode").Output()
	if err != nil {
		return "", fmt.Errorf("vendorctl: get mode for %s: %w", id, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// SetMode sets the xsetwacom Mode property for id (ModeAbsolute or ModeRelative).
func SetMode(id, mode string) error {
	if err := exec.Command("xsetwacom", "--set", id, "Mode", mode).Run(); err != nil {
		return fmt.Errorf("vendorctl: set mode %s for %s: %w", mode, id, err)
	}
	return nil
}

// SetLocalEnabled enables or disables local delivery of the device's events
// to the X input stack, trying xinput first and xsetwacom's Touch toggle as
// a fallback, mirroring disable_local_input/enable_local_input.
func SetLocalEnabled(id string, enabled bool) error {
	verb := "disable"
	touch := "off"
	if enabled {
		verb = "enable"
		touch = "on"
	}
	if err := exec.Command("xinput", verb, id).Run(); err == nil {
		return nil
	}
	if err := exec.Command("xsetwacom", "--set", id, "Touch", touch).Run(); err != nil {
		return fmt.Errorf("vendorctl: set local-enabled=%v for %s: %w", enabled, id, err)
	}
	return nil
}
