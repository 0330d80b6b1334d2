//go:build !linux

package evdevio

import (
	"errors"
	"os"
)

// ErrUnsupportedPlatform is returned by every ioctl wrapper on non-Linux
// builds; transwacom's Host capture and Consumer emulation are Linux-only
// (base spec §1, Non-goals: "support for non-Linux input backends").
var ErrUnsupportedPlatform = errors.New("evdevio: unsupported on this platform")

func Name(f *os.File) (string, error) { return "", ErrUnsupportedPlatform }

func Bits(f *os.File, evType uint16, maxCode uint16) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func Abs(f *os.File, axis uint16) (AbsInfo, error) { return AbsInfo{}, ErrUnsupportedPlatform }

func Grab(f *os.File, grab bool) error { return ErrUnsupportedPlatform }

func SetEvBit(f *os.File, ev uintptr) error    { return ErrUnsupportedPlatform }
func SetKeyBit(f *os.File, code uintptr) error { return ErrUnsupportedPlatform }
func SetRelBit(f *os.File, code uintptr) error { return ErrUnsupportedPlatform }
func SetAbsBit(f *os.File, code uintptr) error { return ErrUnsupportedPlatform }

func DevCreate(f *os.File) error  { return ErrUnsupportedPlatform }
func DevDestroy(f *os.File) error { return ErrUnsupportedPlatform }
