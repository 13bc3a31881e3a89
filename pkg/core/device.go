package core

import (
	"context"
	"time"
)

// Device identifies one attached device as reported by the device manager.
type Device struct {
	UDID           string `json:"udid"`
	Slot           int    `json:"slot"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// ProbeResult is the outcome of a single bounded connectivity check.
type ProbeResult int

const (
	ProbeConnected ProbeResult = iota
	ProbeNotConnected
	ProbeTimedOut
	ProbeError
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeConnected:
		return "connected"
	case ProbeNotConnected:
		return "not_connected"
	case ProbeTimedOut:
		return "timed_out"
	case ProbeError:
		return "error"
	default:
		return "unknown"
	}
}

// App is an installed application on a device.
type App struct {
	BundleID string `json:"bundle_id"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

// DeviceManager enumerates devices and probes for their presence.
type DeviceManager interface {
	// Name returns the backend identifier (e.g., "goios", "tidevice").
	Name() string

	// ListDevices returns the currently attached devices in enumeration order.
	ListDevices(ctx context.Context) ([]Device, error)

	// Probe waits up to timeout for a device to be attached.
	Probe(ctx context.Context, timeout time.Duration) ProbeResult
}

// AppLister lists user applications installed on a device.
type AppLister interface {
	ListApps(ctx context.Context, udid string) ([]App, error)
}

// Backend is everything the collector needs from one device stack.
type Backend interface {
	DeviceManager
	LogTransport
	AppLister
}
