package device

import (
	"context"
	"log/slog"

	"github.com/modoterra/idevlog/pkg/core"
)

// Lister enumerates attached devices.
type Lister interface {
	ListDevices(ctx context.Context) ([]core.Device, error)
}

// Enumeration is the outcome of listing devices. Err is set when enumeration
// itself failed, which is distinct from an empty Devices list.
type Enumeration struct {
	Devices []core.Device
	Err     error
}

// Failed reports whether enumeration failed.
func (e Enumeration) Failed() bool { return e.Err != nil }

// FirstUDID returns the first device in enumeration order with a non-empty UDID.
func (e Enumeration) FirstUDID() (string, bool) {
	for _, d := range e.Devices {
		if d.UDID != "" {
			return d.UDID, true
		}
	}
	return "", false
}

// Locator resolves the identity of the device to collect from.
type Locator struct {
	lister Lister
	logger *slog.Logger
}

// NewLocator creates a locator over the given lister.
func NewLocator(l Lister, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{lister: l, logger: logger}
}

// Enumerate lists devices and reports failure separately from absence.
func (l *Locator) Enumerate(ctx context.Context) Enumeration {
	devices, err := l.lister.ListDevices(ctx)
	if err != nil {
		return Enumeration{Err: err}
	}
	return Enumeration{Devices: devices}
}

// ListDevices returns the attached devices. Enumeration failures are logged
// and yield an empty list.
func (l *Locator) ListDevices(ctx context.Context) []core.Device {
	e := l.Enumerate(ctx)
	if e.Failed() {
		l.logger.Error("list devices failed", "err", e.Err)
		return nil
	}
	return e.Devices
}

// FirstUDID returns the first device in enumeration order with a non-empty UDID.
func (l *Locator) FirstUDID(ctx context.Context) (string, bool) {
	return Enumeration{Devices: l.ListDevices(ctx)}.FirstUDID()
}
