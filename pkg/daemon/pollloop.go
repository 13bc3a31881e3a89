package daemon

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/device"
	"github.com/modoterra/idevlog/pkg/transport/uds"
)

// DeviceLister enumerates attached devices. A failed enumeration is reported
// separately from an empty one.
type DeviceLister interface {
	Enumerate(ctx context.Context) device.Enumeration
}

// PollLoop re-enumerates devices every interval and emits attach/detach events.
type PollLoop struct {
	daemon   *Daemon
	lister   DeviceLister
	interval time.Duration
	logger   *slog.Logger
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, lister DeviceLister, interval time.Duration, logger *slog.Logger) *PollLoop {
	return &PollLoop{daemon: d, lister: lister, interval: interval, logger: logger}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	pl.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick(ctx)
		}
	}
}

func (pl *PollLoop) tick(ctx context.Context) {
	e := pl.lister.Enumerate(ctx)
	if e.Failed() {
		// Keep the last known set; a failed listing says nothing about detaches.
		pl.logger.Warn("device enumeration failed", "err", e.Err)
		return
	}
	current := make(map[string]core.Device)
	for _, dev := range e.Devices {
		current[dev.UDID] = dev
	}

	pl.daemon.mu.Lock()
	previous := pl.daemon.devices
	pl.daemon.devices = current
	pl.daemon.mu.Unlock()

	delta := computeDelta(previous, current)
	if !delta.HasChanges() {
		return
	}
	for _, dev := range delta.Attached {
		pl.logger.Info("device attached", "udid", dev.UDID, "connection", dev.ConnectionType)
	}
	for _, udid := range delta.Detached {
		pl.logger.Info("device detached", "udid", udid)
	}

	evt, err := uds.NewEvent(uds.EventDevicesDelta, delta)
	if err == nil {
		pl.daemon.Server().Broadcast(evt)
	}
}

// Delta represents device changes between poll cycles.
type Delta struct {
	Attached []core.Device `json:"attached,omitempty"`
	Detached []string      `json:"detached,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Attached) > 0 || len(d.Detached) > 0
}

func computeDelta(old, new map[string]core.Device) Delta {
	var d Delta

	for _, udid := range slices.Sorted(maps.Keys(new)) {
		if _, existed := old[udid]; !existed {
			d.Attached = append(d.Attached, new[udid])
		}
	}
	for _, udid := range slices.Sorted(maps.Keys(old)) {
		if _, exists := new[udid]; !exists {
			d.Detached = append(d.Detached, udid)
		}
	}

	return d
}
