//go:build linux

package evdevio

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl request numbers are encoded as (dir<<30)|(size<<16)|(type<<8)|nr.
// EVIOCG* requests use magic 'E' (0x45); the fixed ones below are computed
// once at init the same way the kernel headers' macros expand them.
const (
	iocRead      = 2
	iocWrite     = 1
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
	evdevMagic   = 'E'
)

func iocR(nr, size uintptr) uintptr {
	return (iocRead << iocDirShift) | (evdevMagic << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func iocW(nr, size uintptr) uintptr {
	return (iocWrite << iocDirShift) | (evdevMagic << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

var (
	eviocgrab  = iocW(0x90, 4)
	eviocgname = iocR(0x06, 256)
)

func bitsRequest(evType uint16, size uintptr) uintptr {
	return iocR(uintptr(0x20+evType), size)
}

func absRequest(axis uint16) uintptr {
	return iocR(uintptr(0x40+axis), unsafe.Sizeof(AbsInfo{}))
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlArg issues an ioctl whose third argument is an integer value rather
// than a pointer, as UI_SET_EVBIT and friends expect.
func ioctlArg(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Name reads a device's human-readable name via EVIOCGNAME.
func Name(f *os.File) (string, error) {
	buf := make([]byte, 256)
	if err := ioctl(f.Fd(), eviocgname, unsafe.Pointer(&buf[0])); err != nil {
		return "", err
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), nil
}

// Bits returns the EVIOCGBIT capability bitmask for the given event type,
// sized to cover codes 0..maxCode inclusive.
func Bits(f *os.File, evType uint16, maxCode uint16) ([]byte, error) {
	size := int(maxCode)/8 + 1
	buf := make([]byte, size)
	if err := ioctl(f.Fd(), bitsRequest(evType, uintptr(size)), unsafe.Pointer(&buf[0])); err != nil {
		return nil, err
	}
	return buf, nil
}

// Abs reads the AbsInfo for one absolute axis via EVIOCGABS.
func Abs(f *os.File, axis uint16) (AbsInfo, error) {
	var info AbsInfo
	if err := ioctl(f.Fd(), absRequest(axis), unsafe.Pointer(&info)); err != nil {
		return AbsInfo{}, err
	}
	return info, nil
}

// Grab acquires (grab=true) or releases (grab=false) exclusive access to
// the device via EVIOCGRAB, so no other local reader sees its events.
func Grab(f *os.File, grab bool) error {
	var arg int32
	if grab {
		arg = 1
	}
	return ioctl(f.Fd(), eviocgrab, unsafe.Pointer(&arg))
}

// SetEvBit, SetKeyBit, SetRelBit, SetAbsBit declare capability bits on a
// /dev/uinput fd before UI_DEV_CREATE, per the legacy uinput construction
// sequence.
func SetEvBit(f *os.File, ev uintptr) error {
	return ioctlArg(f.Fd(), UiSetEvBit, ev)
}

func SetKeyBit(f *os.File, code uintptr) error {
	return ioctlArg(f.Fd(), UiSetKeyBit, code)
}

func SetRelBit(f *os.File, code uintptr) error {
	return ioctlArg(f.Fd(), UiSetRelBit, code)
}

func SetAbsBit(f *os.File, code uintptr) error {
	return ioctlArg(f.Fd(), UiSetAbsBit, code)
}

// DevCreate/DevDestroy issue UI_DEV_CREATE / UI_DEV_DESTROY.
func DevCreate(f *os.File) error {
	return ioctlArg(f.Fd(), UiDevCreate, 0)
}

func DevDestroy(f *os.File) error {
	return ioctlArg(f.Fd(), UiDevDestroy, 0)
}
