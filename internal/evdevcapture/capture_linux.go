//go:build linux

package evdevcapture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"transwacom/internal/devicedetector"
	"transwacom/internal/evdevcodes"
	"transwacom/internal/evdevio"
	"transwacom/internal/faults"
	"transwacom/internal/vendorctl"
	"transwacom/internal/wire"
)

const softFlushInterval = 10 * time.Millisecond

// Start opens dev exclusively, applies the requested vendor mode changes
// (pushing their inverses first), and spawns the reader goroutine that
// forwards SYN_REPORT-terminated batches to sink.
func Start(dev devicedetector.PhysicalDevice, sink Sink, opts Options) (*Capture, error) {
	f, err := os.OpenFile(dev.Path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, faults.New(faults.Permission, "evdevcapture.Start", err)
		}
		return nil, faults.New(faults.Resource, "evdevcapture.Start", err)
	}

	if err := evdevio.Grab(f, true); err != nil {
		f.Close()
		if errors.Is(err, syscall.EBUSY) {
			return nil, faults.New(faults.Resource, "evdevcapture.Start", faults.ErrDeviceBusy)
		}
		return nil, faults.New(faults.Resource, "evdevcapture.Start", err)
	}

	c := newCapture(dev, sink)
	c.f = f

	if dev.Kind == devicedetector.KindTablet && dev.VendorID != "" {
		applyVendorOptions(c, dev.VendorID, opts)
	}

	registerForSigsafe(c)
	go c.readLoop()
	return c, nil
}

// applyVendorOptions pushes each mutation's inverse before attempting it,
// and removes the inverse again if the mutation never actually took effect
// (base spec §4.5 step 2).
func applyVendorOptions(c *Capture, vendorID string, opts Options) {
	if opts.RelativeMode {
		priorMode, err := vendorctl.GetMode(vendorID)
		if err != nil {
			priorMode = vendorctl.ModeAbsolute // best-effort default, matches host_input.py's assumption
		}
		c.pushRestoration(func() {
			if err := vendorctl.SetMode(vendorID, priorMode); err != nil {
				log.Printf("HostCapture: restore mode for %s: %v", vendorID, err)
			}
		})
		if err := vendorctl.SetMode(vendorID, vendorctl.ModeRelative); err != nil {
			c.popRestoration()
			log.Printf("HostCapture: set relative mode for %s: %v", vendorID, err)
		}
	}

	if opts.DisableLocal {
		c.pushRestoration(func() {
			if err := vendorctl.SetLocalEnabled(vendorID, true); err != nil {
				log.Printf("HostCapture: re-enable local input for %s: %v", vendorID, err)
			}
		})
		if err := vendorctl.SetLocalEnabled(vendorID, false); err != nil {
			c.popRestoration()
			log.Printf("HostCapture: disable local input for %s: %v", vendorID, err)
		}
	}
}

func (c *Capture) readLoop() {
	defer close(c.doneCh)

	rawCh := make(chan evdevio.InputEvent, 64)
	readErrCh := make(chan error, 1)

	go func() {
		r := bufio.NewReaderSize(c.f, 24*64)
		for {
			var raw evdevio.InputEvent
			if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
				readErrCh <- err
				return
			}
			select {
			case rawCh <- raw:
			case <-c.stopCh:
				return
			}
		}
	}()

	var batch []wire.Event
	flush := func() {
		if len(batch) == 0 {
			return
		}
		pending := batch
		batch = nil
		if err := c.sink(string(c.dev.Kind), pending); err != nil {
			c.reportError(err)
		}
	}

	timer := time.NewTimer(softFlushInterval)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-rawCh:
			if !ok {
				flush()
				return
			}
			name, found := evdevcodes.Name(evdevcodes.Type(raw.Type), raw.Code)
			if !found {
				continue
			}
			ts := float64(raw.Time.Sec) + float64(raw.Time.Usec)/1e6
			batch = append(batch, wire.Event{Code: name, Value: int(raw.Value), Ts: ts})
			if name == evdevcodes.SynReportName {
				flush()
				resetTimer(timer, softFlushInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(softFlushInterval)
		case err := <-readErrCh:
			c.reportError(err)
			return
		case <-c.stopCh:
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (c *Capture) reportError(err error) {
	select {
	case c.errCh <- faults.New(faults.Transient, "evdevcapture.readLoop", err):
	default:
	}
	go c.Stop()
}

// Stop releases the grab and runs the restoration guard exactly once,
// regardless of how many times it is called or whether the reader exited
// on its own (base spec P6, idempotent teardown).
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
		unregisterForSigsafe(c)

		if err := evdevio.Grab(c.f, false); err != nil {
			log.Printf("HostCapture: release grab on %s: %v", c.dev.Path, err)
		}
		c.runRestoration(func(r any) {
			log.Printf("HostCapture: restoration action panicked: %v", r)
		})
		c.f.Close()
	})
}

// sigsafe registry: a process-wide safety net so SIGTERM/SIGINT run every
// active capture's restoration guard even if the Supervisor's own signal
// handling never gets scheduled (base spec §4.5 step 5).
var (
	sigsafeOnce sync.Once
	sigsafeMu   sync.Mutex
	sigsafeSet  = map[*Capture]struct{}{}
)

func installSigsafeHook() {
	sigsafeOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-ch
			sigsafeMu.Lock()
			caps := make([]*Capture, 0, len(sigsafeSet))
			for c := range sigsafeSet {
				caps = append(caps, c)
			}
			sigsafeMu.Unlock()
			for _, c := range caps {
				c.Stop()
			}
		}()
	})
}

func registerForSigsafe(c *Capture) {
	installSigsafeHook()
	sigsafeMu.Lock()
	sigsafeSet[c] = struct{}{}
	sigsafeMu.Unlock()
}

func unregisterForSigsafe(c *Capture) {
	sigsafeMu.Lock()
	delete(sigsafeSet, c)
	sigsafeMu.Unlock()
}
