package virtualdevice

import (
	"testing"

	"transwacom/internal/evdevcodes"
	"transwacom/internal/wire"
)

func TestClampRestrictsToDeclaredRange(t *testing.T) {
	axis := wire.AxisRange{Min: 0, Max: 100}
	if got := clamp(150, axis); got != 100 {
		t.Fatalf("clamp(150) = %d, want 100", got)
	}
	if got := clamp(-10, axis); got != 0 {
		t.Fatalf("clamp(-10) = %d, want 0", got)
	}
	if got := clamp(42, axis); got != 42 {
		t.Fatalf("clamp(42) = %d, want 42", got)
	}
}

func TestClampPassesThroughZeroRange(t *testing.T) {
	// An axis with no declared min/max (both zero) means "no clamp".
	if got := clamp(9999, wire.AxisRange{}); got != 9999 {
		t.Fatalf("clamp with zero range should pass through, got %d", got)
	}
}

func TestEnsureTrailingSynAppendsWhenMissing(t *testing.T) {
	events := []wire.Event{{Code: "ABS_X", Value: 10}}
	got := ensureTrailingSyn(events)
	if len(got) != 2 || got[1].Code != evdevcodes.SynReportName {
		t.Fatalf("expected a trailing SYN_REPORT to be appended, got %+v", got)
	}
}

func TestEnsureTrailingSynLeavesExistingOneAlone(t *testing.T) {
	events := []wire.Event{
		{Code: "ABS_X", Value: 10},
		{Code: evdevcodes.SynReportName, Value: 0},
	}
	got := ensureTrailingSyn(events)
	if len(got) != 2 {
		t.Fatalf("should not have appended a duplicate SYN_REPORT, got %+v", got)
	}
}

func TestProductNameFormat(t *testing.T) {
	profile := wire.CapabilityProfile{Kind: "tablet"}
	got := productName(profile, "HostA")
	want := "TransWacom Virtual tablet (HostA)"
	if got != want {
		t.Fatalf("productName() = %q, want %q", got, want)
	}
}
