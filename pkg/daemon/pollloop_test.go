package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/device"
)

func TestComputeDelta_Attached(t *testing.T) {
	old := map[string]core.Device{}
	new := map[string]core.Device{"b": {UDID: "b"}, "a": {UDID: "a"}}
	d := computeDelta(old, new)
	if len(d.Attached) != 2 || d.Attached[0].UDID != "a" || d.Attached[1].UDID != "b" {
		t.Errorf("attached: got %+v", d.Attached)
	}
	if len(d.Detached) != 0 {
		t.Errorf("detached: got %v", d.Detached)
	}
}

func TestComputeDelta_Detached(t *testing.T) {
	old := map[string]core.Device{"a": {UDID: "a"}, "b": {UDID: "b"}}
	new := map[string]core.Device{"b": {UDID: "b"}}
	d := computeDelta(old, new)
	if len(d.Detached) != 1 || d.Detached[0] != "a" {
		t.Errorf("detached: got %v", d.Detached)
	}
	if len(d.Attached) != 0 {
		t.Errorf("attached: got %+v", d.Attached)
	}
}

func TestComputeDelta_NoChanges(t *testing.T) {
	devs := map[string]core.Device{"a": {UDID: "a"}}
	if d := computeDelta(devs, devs); d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

type enumerateFunc func() device.Enumeration

func (f enumerateFunc) Enumerate(context.Context) device.Enumeration { return f() }

func TestPollLoopTracksDevices(t *testing.T) {
	d := New(t.TempDir()+"/s.sock", Info{}, nil, quietLogger())
	devices := []core.Device{{UDID: "A", Slot: 1}}
	pl := NewPollLoop(d, enumerateFunc(func() device.Enumeration {
		return device.Enumeration{Devices: devices}
	}), 0, quietLogger())

	pl.tick(context.Background())
	if st := d.Status(); len(st.Devices) != 1 || st.Devices[0] != "A" {
		t.Errorf("devices after attach: %v", st.Devices)
	}

	devices = nil
	pl.tick(context.Background())
	if st := d.Status(); len(st.Devices) != 0 {
		t.Errorf("devices after detach: %v", st.Devices)
	}
}

func TestPollLoopKeepsDevicesWhenEnumerationFails(t *testing.T) {
	d := New(t.TempDir()+"/s.sock", Info{}, nil, quietLogger())
	e := device.Enumeration{Devices: []core.Device{{UDID: "A", Slot: 1}}}
	pl := NewPollLoop(d, enumerateFunc(func() device.Enumeration { return e }), 0, quietLogger())

	pl.tick(context.Background())
	e = device.Enumeration{Err: errors.New("usbmuxd unavailable")}
	pl.tick(context.Background())

	if st := d.Status(); len(st.Devices) != 1 || st.Devices[0] != "A" {
		t.Errorf("devices after failed enumeration: %v, want [A]", st.Devices)
	}
}
