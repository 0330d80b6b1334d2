//go:build !linux

package evdevcapture

import (
	"transwacom/internal/devicedetector"
	"transwacom/internal/faults"
)

// Start always fails on non-Linux builds (base spec §1, Non-goals: "support
// for non-Linux input backends").
func Start(dev devicedetector.PhysicalDevice, sink Sink, opts Options) (*Capture, error) {
	return nil, faults.New(faults.Resource, "evdevcapture.Start", faults.ErrUnsupported)
}

// Stop is a no-op on a Capture that could never have started successfully.
func (c *Capture) Stop() {}
