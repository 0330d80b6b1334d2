// Package evdevcapture implements the Host-side capture pipeline (base
// spec §4.5): exclusive grab of a physical evdev node, an optional vendor
// mode change, timestamped batch extraction, and a restoration guard that
// is the only place any of it gets undone. The grab/read/restore sequence
// is grounded on host_input.py's InputCapture and WacomController, redone
// as a goroutine-per-device pipeline instead of a Python thread.
package evdevcapture

import (
	"os"
	"sync"

	"transwacom/internal/devicedetector"
	"transwacom/internal/wire"
)

// Options mirrors the mode-change toggles from base spec §4.5.
type Options struct {
	RelativeMode bool
	DisableLocal bool
}

// Sink receives a SYN_REPORT-terminated batch of events for one device.
// Returning an error tears the capture down through the same restoration
// path as an explicit Stop.
type Sink func(deviceType string, batch []wire.Event) error

// restorationAction is one compensating operation, pushed before its
// matching mutation and popped in LIFO order at teardown (base spec §4.5,
// §9 "with-block style restoration").
type restorationAction func()

// Capture owns one grabbed device and its reader goroutine. The
// platform-specific Start lives in capture_linux.go / capture_stub.go;
// this file holds the parts that don't touch a file descriptor.
type Capture struct {
	dev  devicedetector.PhysicalDevice
	sink Sink
	f    *os.File

	restoreMu    sync.Mutex
	restoreStack []restorationAction

	errCh    chan error
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newCapture(dev devicedetector.PhysicalDevice, sink Sink) *Capture {
	return &Capture{
		dev:    dev,
		sink:   sink,
		errCh:  make(chan error, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// pushRestoration records a compensating op before its mutation is applied.
func (c *Capture) pushRestoration(action restorationAction) {
	c.restoreMu.Lock()
	c.restoreStack = append(c.restoreStack, action)
	c.restoreMu.Unlock()
}

// popRestoration removes the most recently pushed action without running
// it, used when the mutation it would undo never actually succeeded.
func (c *Capture) popRestoration() {
	c.restoreMu.Lock()
	if n := len(c.restoreStack); n > 0 {
		c.restoreStack = c.restoreStack[:n-1]
	}
	c.restoreMu.Unlock()
}

// runRestoration executes every pushed action in LIFO order. It is
// idempotent: called once from Stop, it drains the stack so a second call
// is a no-op (base spec P6, idempotent teardown).
func (c *Capture) runRestoration(onErr func(err any)) {
	c.restoreMu.Lock()
	stack := c.restoreStack
	c.restoreStack = nil
	c.restoreMu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil && onErr != nil {
					onErr(r)
				}
			}()
			stack[i]()
		}()
	}
}

// Errors reports read/sink/vendor-control failures asynchronously; the
// session engine consumes this to drive Streaming -> Draining(Error).
func (c *Capture) Errors() <-chan error { return c.errCh }

// Device returns the physical device this Capture owns.
func (c *Capture) Device() devicedetector.PhysicalDevice { return c.dev }
