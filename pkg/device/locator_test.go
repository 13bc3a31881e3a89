package device

import (
	"context"
	"errors"
	"testing"

	"github.com/modoterra/idevlog/pkg/core"
)

type staticLister struct {
	devices []core.Device
	err     error
}

func (l staticLister) ListDevices(context.Context) ([]core.Device, error) {
	return l.devices, l.err
}

func TestFirstUDIDEmptyEnumeration(t *testing.T) {
	l := NewLocator(staticLister{}, quietLogger())
	udid, ok := l.FirstUDID(context.Background())
	if ok || udid != "" {
		t.Errorf("FirstUDID() = %q, %v; want absent", udid, ok)
	}
}

func TestFirstUDIDSkipsEmptyIdentifiers(t *testing.T) {
	l := NewLocator(staticLister{devices: []core.Device{
		{UDID: "", Slot: 1},
		{UDID: "00008101-AAAA", Slot: 2},
		{UDID: "00008101-BBBB", Slot: 3},
	}}, quietLogger())

	udid, ok := l.FirstUDID(context.Background())
	if !ok || udid != "00008101-AAAA" {
		t.Errorf("FirstUDID() = %q, %v; want 00008101-AAAA", udid, ok)
	}
}

func TestListDevicesDegradesOnError(t *testing.T) {
	l := NewLocator(staticLister{err: errors.New("usbmuxd unavailable")}, quietLogger())

	if got := l.ListDevices(context.Background()); len(got) != 0 {
		t.Errorf("ListDevices() = %v, want empty", got)
	}
	if _, ok := l.FirstUDID(context.Background()); ok {
		t.Error("FirstUDID() should be absent when enumeration fails")
	}
}

func TestEnumerateDistinguishesFailure(t *testing.T) {
	cause := errors.New("usbmuxd unavailable")
	failed := NewLocator(staticLister{err: cause}, quietLogger()).Enumerate(context.Background())
	if !failed.Failed() || !errors.Is(failed.Err, cause) {
		t.Errorf("expected failed enumeration carrying cause, got %+v", failed)
	}

	empty := NewLocator(staticLister{}, quietLogger()).Enumerate(context.Background())
	if empty.Failed() {
		t.Error("empty enumeration must not report failure")
	}
	if _, ok := empty.FirstUDID(); ok {
		t.Error("empty enumeration has no UDID")
	}
}
