// Package virtualdevice implements the Consumer-side emulation pipeline
// (base spec §4.6): build a uinput node whose capability bitmap matches a
// declared CapabilityProfile exactly, inject events with defensive
// synchronization and range clamping, and destroy deterministically. The
// legacy write(uinput_user_dev)+UI_DEV_CREATE sequence is grounded on
// kp7742-TouchSimulation's Uinput.go and openstadia-go-uinput's constants.
package virtualdevice

import (
	"os"
	"sync"
	"sync/atomic"

	"transwacom/internal/evdevcodes"
	"transwacom/internal/wire"
)

// VirtualDevice is a live uinput node presenting one peer's shared device.
type VirtualDevice struct {
	profile  wire.CapabilityProfile
	peerName string
	f        *os.File

	mu          sync.Mutex
	destroyed   bool
	unknownDrop atomic.Uint64
}

func productName(profile wire.CapabilityProfile, peerName string) string {
	return "TransWacom Virtual " + profile.Kind + " (" + peerName + ")"
}

// DroppedUnknownCodes reports how many injected event codes had no entry
// in evdevcodes and were dropped (base spec §4.6).
func (v *VirtualDevice) DroppedUnknownCodes() uint64 { return v.unknownDrop.Load() }

// Profile returns the capability profile this device was built from.
func (v *VirtualDevice) Profile() wire.CapabilityProfile { return v.profile }

func clamp(value int, axis wire.AxisRange) int {
	if axis.Min == 0 && axis.Max == 0 {
		return value
	}
	if value < axis.Min {
		return axis.Min
	}
	if value > axis.Max {
		return axis.Max
	}
	return value
}

// ensureTrailingSyn appends a defensive SYN_REPORT if the batch didn't end
// with one already (base spec §4.6: "append a SYN_REPORT at the end of the
// batch if the sender omitted one").
func ensureTrailingSyn(events []wire.Event) []wire.Event {
	if len(events) > 0 && events[len(events)-1].Code == evdevcodes.SynReportName {
		return events
	}
	return append(events, wire.Event{Code: evdevcodes.SynReportName, Value: 0})
}
