package evdevcapture

import (
	"testing"

	"transwacom/internal/devicedetector"
)

func TestRestorationRunsInLIFOOrder(t *testing.T) {
	c := newCapture(devicedetector.PhysicalDevice{}, nil)

	var order []int
	c.pushRestoration(func() { order = append(order, 1) })
	c.pushRestoration(func() { order = append(order, 2) })
	c.pushRestoration(func() { order = append(order, 3) })

	c.runRestoration(nil)

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestRestorationIsIdempotent(t *testing.T) {
	c := newCapture(devicedetector.PhysicalDevice{}, nil)

	runs := 0
	c.pushRestoration(func() { runs++ })

	c.runRestoration(nil)
	c.runRestoration(nil) // second call must be a no-op: stack already drained

	if runs != 1 {
		t.Fatalf("restoration ran %d times, want 1", runs)
	}
}

func TestPopRestorationRemovesLastPushedAction(t *testing.T) {
	c := newCapture(devicedetector.PhysicalDevice{}, nil)

	ran := false
	c.pushRestoration(func() { ran = true })
	c.popRestoration()

	c.runRestoration(nil)

	if ran {
		t.Fatal("popped action should never have run")
	}
}

func TestRestorationRecoversPanickingAction(t *testing.T) {
	c := newCapture(devicedetector.PhysicalDevice{}, nil)

	// Pushed first, so it executes last (LIFO) -- i.e. chronologically
	// after the panicking action below.
	ranAfter := false
	c.pushRestoration(func() { ranAfter = true })
	c.pushRestoration(func() { panic("boom") })

	var recovered any
	c.runRestoration(func(r any) { recovered = r })

	if recovered == nil {
		t.Fatal("expected panic to be captured")
	}
	if !ranAfter {
		t.Fatal("actions scheduled to run after a panicking one must still run")
	}
}
