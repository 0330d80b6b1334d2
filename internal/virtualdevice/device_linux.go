//go:build linux

package virtualdevice

import (
	"bytes"
	"encoding/binary"
	"os"
	"syscall"
	"time"

	"transwacom/internal/evdevcodes"
	"transwacom/internal/evdevio"
	"transwacom/internal/faults"
	"transwacom/internal/wire"
)

const uinputPath = "/dev/uinput"

// Create builds a uinput device declaring exactly profile.Capabilities.
// Construction is refused outright if the kind is disabled in config,
// without ever touching /dev/uinput (base spec §4.6, capability-gate).
func Create(profile wire.CapabilityProfile, peerName string, kindEnabled bool) (*VirtualDevice, error) {
	if !kindEnabled {
		return nil, faults.New(faults.Refused, "virtualdevice.Create", faults.ErrRefusedDisabled)
	}

	f, err := os.OpenFile(uinputPath, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, faults.New(faults.Permission, "virtualdevice.Create", err)
		}
		return nil, faults.New(faults.Resource, "virtualdevice.Create", err)
	}

	if err := declareCapabilities(f, profile); err != nil {
		f.Close()
		return nil, faults.New(faults.Resource, "virtualdevice.Create", err)
	}

	dev := newUinputUserDev(profile, peerName)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &dev); err != nil {
		f.Close()
		return nil, faults.New(faults.Resource, "virtualdevice.Create", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return nil, faults.New(faults.Resource, "virtualdevice.Create", err)
	}
	if err := evdevio.DevCreate(f); err != nil {
		f.Close()
		return nil, faults.New(faults.Resource, "virtualdevice.Create", err)
	}

	return &VirtualDevice{profile: profile, peerName: peerName, f: f}, nil
}

func declareCapabilities(f *os.File, profile wire.CapabilityProfile) error {
	if err := evdevio.SetEvBit(f, uintptr(evdevio.EV_SYN)); err != nil {
		return err
	}
	seenType := map[evdevcodes.Type]bool{}
	for _, name := range profile.Capabilities {
		code, ok := evdevcodes.Lookup(name)
		if !ok {
			continue
		}
		if !seenType[code.Type] {
			if err := evdevio.SetEvBit(f, uintptr(code.Type)); err != nil {
				return err
			}
			seenType[code.Type] = true
		}
		switch code.Type {
		case evdevcodes.EV_KEY:
			if err := evdevio.SetKeyBit(f, uintptr(code.Value)); err != nil {
				return err
			}
		case evdevcodes.EV_REL:
			if err := evdevio.SetRelBit(f, uintptr(code.Value)); err != nil {
				return err
			}
		case evdevcodes.EV_ABS:
			if err := evdevio.SetAbsBit(f, uintptr(code.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func newUinputUserDev(profile wire.CapabilityProfile, peerName string) evdevio.UinputUserDev {
	var dev evdevio.UinputUserDev
	copy(dev.Name[:], productName(profile, peerName))
	dev.ID = evdevio.InputID{Bustype: evdevio.BusVirtual, Vendor: 0, Product: 0, Version: 1}
	for name, axis := range profile.Axes {
		code, ok := evdevcodes.Lookup(name)
		if !ok || code.Type != evdevcodes.EV_ABS {
			continue
		}
		dev.Absmin[code.Value] = int32(axis.Min)
		dev.Absmax[code.Value] = int32(axis.Max)
	}
	return dev
}

// Inject writes events in order, clamping declared absolute axes to their
// range and dropping codes that have no entry in evdevcodes. Known codes
// outside the profile's capabilities are written as-is. A defensive
// SYN_REPORT is appended if the caller's batch omitted one.
func (v *VirtualDevice) Inject(events []wire.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return faults.New(faults.Resource, "virtualdevice.Inject", os.ErrClosed)
	}

	for _, ev := range ensureTrailingSyn(events) {
		code, ok := evdevcodes.Lookup(ev.Code)
		if !ok {
			v.unknownDrop.Add(1)
			continue
		}
		value := ev.Value
		if code.Type == evdevcodes.EV_ABS {
			if axis, ok := v.profile.Axes[ev.Code]; ok {
				value = clamp(value, axis)
			}
		}
		raw := evdevio.InputEvent{
			Time:  nowTimeval(),
			Type:  uint16(code.Type),
			Code:  code.Value,
			Value: int32(value),
		}
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
			return faults.New(faults.Resource, "virtualdevice.Inject", err)
		}
		if _, err := v.f.Write(buf.Bytes()); err != nil {
			return faults.New(faults.Resource, "virtualdevice.Inject", err)
		}
	}
	return nil
}

func nowTimeval() evdevio.Timeval {
	now := time.Now()
	return evdevio.Timeval{Sec: now.Unix(), Usec: int64(now.Nanosecond() / 1000)}
}

// Destroy removes the uinput node. Idempotent: a second call is a no-op.
func (v *VirtualDevice) Destroy() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return nil
	}
	v.destroyed = true
	if err := evdevio.DevDestroy(v.f); err != nil {
		v.f.Close()
		return faults.New(faults.Resource, "virtualdevice.Destroy", err)
	}
	return v.f.Close()
}
