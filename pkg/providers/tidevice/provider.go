// Package tidevice drives the tidevice command line tool as a device backend.
package tidevice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "tidevice"

const (
	maxLineSize = 1024 * 1024
	waitDelay   = 2 * time.Second
)

// Provider implements core.Backend by spawning tidevice subcommands.
type Provider struct {
	binary string
	logger *slog.Logger
}

// New creates a tidevice backend. An empty binary means DefaultBinary.
func New(binary string, logger *slog.Logger) *Provider {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Provider{binary: binary, logger: logger}
}

func (p *Provider) Name() string { return "tidevice" }

// Probe runs `tidevice wait-for-device` bounded by timeout.
func (p *Provider) Probe(ctx context.Context, timeout time.Duration) core.ProbeResult {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(pctx, p.binary, "wait-for-device")
	err := cmd.Run()
	switch {
	case err == nil:
		return core.ProbeConnected
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		return core.ProbeTimedOut
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return core.ProbeNotConnected
	}
	p.logger.Debug("wait-for-device failed", "err", err)
	return core.ProbeError
}

// ListDevices runs `tidevice list --json`.
func (p *Provider) ListDevices(ctx context.Context) ([]core.Device, error) {
	out, err := exec.CommandContext(ctx, p.binary, "list", "--json").Output()
	if err != nil {
		return nil, fmt.Errorf("tidevice list: %w", err)
	}
	return parseDeviceList(out, p.logger)
}

type deviceRecord struct {
	UDID     string `json:"udid"`
	DeviceID int    `json:"device_id"`
	ConnType string `json:"conn_type"`
}

func parseDeviceList(data []byte, logger *slog.Logger) ([]core.Device, error) {
	var records []deviceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse device list: %w", err)
	}
	devices := make([]core.Device, 0, len(records))
	for i, r := range records {
		if r.UDID == "" {
			logger.Debug("skipping device record without udid", "index", i)
			continue
		}
		devices = append(devices, core.Device{UDID: r.UDID, Slot: r.DeviceID, ConnectionType: r.ConnType})
	}
	return devices, nil
}

// OpenLogStream starts `tidevice -u <udid> syslog` and streams its stdout.
func (p *Provider) OpenLogStream(ctx context.Context, udid string) (core.LogStream, error) {
	sctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(sctx, p.binary, "-u", udid, "syslog")
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tidevice syslog pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("tidevice syslog start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	p.logger.Info("syslog process started", "udid", udid, "pid", cmd.Process.Pid)
	return &stream{cmd: cmd, cancel: cancel, scanner: scanner}, nil
}

// ListApps runs `tidevice -u <udid> applist`.
func (p *Provider) ListApps(ctx context.Context, udid string) ([]core.App, error) {
	out, err := exec.CommandContext(ctx, p.binary, "-u", udid, "applist").Output()
	if err != nil {
		return nil, fmt.Errorf("tidevice applist: %w", err)
	}
	return parseAppList(string(out)), nil
}

// parseAppList reads "<bundle id> <display name...> <version>" rows.
func parseAppList(out string) []core.App {
	var apps []core.App
	for _, row := range strings.Split(out, "\n") {
		fields := strings.Fields(row)
		switch len(fields) {
		case 0:
			continue
		case 1:
			apps = append(apps, core.App{BundleID: fields[0]})
		case 2:
			apps = append(apps, core.App{BundleID: fields[0], Name: fields[1]})
		default:
			apps = append(apps, core.App{
				BundleID: fields[0],
				Name:     strings.Join(fields[1:len(fields)-1], " "),
				Version:  fields[len(fields)-1],
			})
		}
	}
	return apps
}

type stream struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	scanner *bufio.Scanner

	closed   bool
	mu       sync.Mutex
	waitOnce sync.Once
	waitErr  error
}

func (s *stream) Next() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil && !s.isClosed() {
		return "", fmt.Errorf("read syslog: %w", err)
	}

	if err := s.wait(); err != nil && !s.isClosed() {
		return "", fmt.Errorf("tidevice syslog exited: %w", err)
	}
	return "", io.EOF
}

// Close terminates the child process and reaps it. Safe to call repeatedly.
func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wait()
	return nil
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}
