//go:build !linux

package virtualdevice

import (
	"transwacom/internal/faults"
	"transwacom/internal/wire"
)

// Create always fails on non-Linux builds (base spec §1, Non-goals:
// "support for non-Linux input backends").
func Create(profile wire.CapabilityProfile, peerName string, kindEnabled bool) (*VirtualDevice, error) {
	return nil, faults.New(faults.Resource, "virtualdevice.Create", faults.ErrUnsupported)
}

func (v *VirtualDevice) Inject(events []wire.Event) error {
	return faults.New(faults.Resource, "virtualdevice.Inject", faults.ErrUnsupported)
}

func (v *VirtualDevice) Destroy() error { return nil }
