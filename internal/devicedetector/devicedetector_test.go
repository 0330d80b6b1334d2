package devicedetector

import (
	"testing"

	"transwacom/internal/wire"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		caps []string
		want Kind
		ok   bool
	}{
		{
			name: "wacom tablet by pressure and stylus",
			caps: []string{"ABS_X", "ABS_Y", "ABS_PRESSURE", "BTN_STYLUS"},
			want: KindTablet,
			ok:   true,
		},
		{
			name: "vendor-named tablet without pressure",
			caps: []string{"ABS_X", "ABS_Y"},
			want: KindTablet,
			ok:   true,
		},
		{
			name: "gamepad with dual sticks",
			caps: []string{"ABS_X", "ABS_Y", "ABS_RX", "ABS_RY", "BTN_A", "BTN_TL"},
			want: KindJoystick,
			ok:   true,
		},
		{
			name: "joystick buttons without dual sticks",
			caps: []string{"ABS_X", "ABS_Y", "BTN_TRIGGER"},
			want: KindJoystick,
			ok:   true,
		},
		{
			name: "plain mouse is not reportable",
			caps: []string{"REL_X", "REL_Y", "BTN_LEFT", "BTN_RIGHT"},
			want: "",
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deviceName := "Generic Device"
			if tc.want == KindTablet && tc.name == "vendor-named tablet without pressure" {
				deviceName = "Wacom Intuos Pro"
			}
			got, ok := classify(deviceName, tc.caps)
			if ok != tc.ok {
				t.Fatalf("classify() ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestToCapabilityProfilePreservesFields(t *testing.T) {
	d := PhysicalDevice{
		Path:         "/dev/input/event7",
		Kind:         KindTablet,
		DisplayName:  "Wacom Intuos Pro",
		Capabilities: []string{"ABS_X", "ABS_Y", "ABS_PRESSURE", "BTN_STYLUS"},
		Axes: map[string]wire.AxisRange{
			"ABS_X": {Min: 0, Max: 44704, Resolution: 200},
		},
	}
	profile := d.ToCapabilityProfile()
	if profile.Kind != "tablet" || profile.DisplayName != d.DisplayName {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.Capabilities) != len(d.Capabilities) {
		t.Fatalf("capabilities not copied: %+v", profile.Capabilities)
	}
	if _, ok := profile.Axes["ABS_X"]; !ok {
		t.Fatalf("axes not carried through: %+v", profile.Axes)
	}
}
