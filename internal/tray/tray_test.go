package tray

import "testing"

func TestAddMenuItemAssignsSequentialIDs(t *testing.T) {
	tr := New("Test", "tooltip")
	a := tr.AddMenuItem("A", nil)
	b := tr.AddMenuItem("B", nil)
	if a != 0 || b != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", a, b)
	}
	if tr.items[a].Title != "A" || tr.items[b].Title != "B" {
		t.Fatalf("unexpected titles: %+v", tr.items)
	}
}

func TestAddSeparatorInsertsNilEntry(t *testing.T) {
	tr := New("Test", "tooltip")
	tr.AddMenuItem("A", nil)
	tr.AddSeparator()
	tr.AddMenuItem("B", nil)

	if len(tr.items) != 3 || tr.items[1] != nil {
		t.Fatalf("expected a nil separator at index 1, got %+v", tr.items)
	}
}

func TestSetItemCheckedOutOfRangeIsANoop(t *testing.T) {
	tr := New("Test", "tooltip")
	tr.AddMenuItem("A", nil)
	// The underlying systray.MenuItem is only populated once setupMenu
	// runs under a live tray; before that, SetItemChecked must not panic
	// on any of these.
	tr.SetItemChecked(-1, true)
	tr.SetItemChecked(99, true)
	tr.SetItemChecked(0, true)
}

func TestGetIconReturnsAValidICOHeader(t *testing.T) {
	icon := getIcon()
	if len(icon) == 0 {
		t.Fatalf("getIcon() returned no data")
	}
	// ICO files start with a zero reserved field and type 1 (icon).
	if icon[0] != 0x00 || icon[1] != 0x00 || icon[2] != 0x01 || icon[3] != 0x00 {
		t.Fatalf("unexpected ICO header: % x", icon[:4])
	}
}
