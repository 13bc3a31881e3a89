// Package goios talks to iOS devices natively through usbmuxd and lockdown.
package goios

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/danielpaulus/go-ios/ios/installationproxy"
	"github.com/danielpaulus/go-ios/ios/syslog"

	"github.com/modoterra/idevlog/pkg/core"
)

const pollInterval = 250 * time.Millisecond

// Provider implements core.Backend on top of go-ios.
type Provider struct {
	logger *slog.Logger
}

// New creates a go-ios backend.
func New(logger *slog.Logger) *Provider {
	return &Provider{logger: logger}
}

func (p *Provider) Name() string { return "goios" }

// ListDevices enumerates devices attached to usbmuxd. Entries without a
// serial number are skipped.
func (p *Provider) ListDevices(_ context.Context) ([]core.Device, error) {
	list, err := ios.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("usbmux list devices: %w", err)
	}

	devices := make([]core.Device, 0, len(list.DeviceList))
	for _, entry := range list.DeviceList {
		udid := entry.Properties.SerialNumber
		if udid == "" {
			p.logger.Debug("skipping device entry without udid", "device_id", entry.DeviceID)
			continue
		}
		devices = append(devices, core.Device{
			UDID:           udid,
			Slot:           entry.DeviceID,
			ConnectionType: entry.Properties.ConnectionType,
		})
	}
	return devices, nil
}

// Probe polls usbmuxd until a device shows up or timeout elapses.
func (p *Provider) Probe(ctx context.Context, timeout time.Duration) core.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		list, err := ios.ListDevices()
		if err != nil {
			p.logger.Debug("usbmux probe failed", "err", err)
			return core.ProbeError
		}
		if len(list.DeviceList) > 0 {
			return core.ProbeConnected
		}

		select {
		case <-ctx.Done():
			return core.ProbeTimedOut
		case <-ticker.C:
		}
	}
}

// OpenLogStream connects to the device's syslog relay service.
func (p *Provider) OpenLogStream(_ context.Context, udid string) (core.LogStream, error) {
	entry, err := ios.GetDevice(udid)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", udid, err)
	}
	conn, err := syslog.New(entry)
	if err != nil {
		return nil, fmt.Errorf("syslog relay %s: %w", udid, err)
	}
	p.logger.Info("syslog relay connected", "udid", udid)
	return &stream{conn: conn}, nil
}

// ListApps lists user-installed applications.
func (p *Provider) ListApps(_ context.Context, udid string) ([]core.App, error) {
	entry, err := ios.GetDevice(udid)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", udid, err)
	}
	svc, err := installationproxy.New(entry)
	if err != nil {
		return nil, fmt.Errorf("installation proxy %s: %w", udid, err)
	}
	defer svc.Close()

	infos, err := svc.BrowseUserApps()
	if err != nil {
		return nil, fmt.Errorf("browse apps %s: %w", udid, err)
	}
	return decodeApps(infos)
}

type appRecord struct {
	CFBundleIdentifier         string
	CFBundleDisplayName        string
	CFBundleShortVersionString string
}

// decodeApps maps installation proxy records by their plist key names.
func decodeApps(infos any) ([]core.App, error) {
	data, err := json.Marshal(infos)
	if err != nil {
		return nil, fmt.Errorf("encode app list: %w", err)
	}
	var records []appRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode app list: %w", err)
	}
	apps := make([]core.App, 0, len(records))
	for _, r := range records {
		if r.CFBundleIdentifier == "" {
			continue
		}
		apps = append(apps, core.App{
			BundleID: r.CFBundleIdentifier,
			Name:     r.CFBundleDisplayName,
			Version:  r.CFBundleShortVersionString,
		})
	}
	return apps, nil
}

type stream struct {
	conn      *syslog.Connection
	closeOnce sync.Once
}

func (s *stream) Next() (string, error) {
	msg, err := s.conn.ReadLogMessage()
	if err != nil {
		return "", err
	}
	return trimRecord(msg), nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { s.conn.Close() })
	return nil
}

// trimRecord drops the relay's record terminator.
func trimRecord(msg string) string {
	return strings.TrimRight(msg, "\x00\r\n")
}
