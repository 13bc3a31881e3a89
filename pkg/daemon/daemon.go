// Package daemon hosts a long-running collection: it supervises sessions,
// serves live status over a unix socket and reports readiness to systemd.
package daemon

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/pipeline"
	"github.com/modoterra/idevlog/pkg/transport/uds"
)

const recentLines = 1000

// Info is the static description of the collection reported by Status.
type Info struct {
	Version    string
	Backend    string
	App        string
	OutputPath string
}

// Progress reports the live pipeline position.
type Progress interface {
	State() pipeline.State
	Progress() (written, matched int64)
}

// Daemon serves the status socket of a running collector.
type Daemon struct {
	server    *uds.Server
	info      Info
	progress  Progress
	recent    *lineBuffer
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	session int
	last    *pipeline.Result
	devices map[string]core.Device
}

// New creates a status server on socketPath.
func New(socketPath string, info Info, progress Progress, logger *slog.Logger) *Daemon {
	srv := uds.NewServer(socketPath, logger)
	d := &Daemon{
		server:    srv,
		info:      info,
		progress:  progress,
		recent:    newLineBuffer(recentLines),
		startedAt: time.Now(),
		devices:   make(map[string]core.Device),
		logger:    logger,
	}
	d.registerHandlers()
	return d
}

// Run starts the server and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown cleans up resources.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

// PublishLine records a matched line and pushes it to connected viewers.
func (d *Daemon) PublishLine(l core.LogLine) {
	d.recent.write(l)
	evt, err := uds.NewEvent(uds.EventLogsLine, l)
	if err != nil {
		d.logger.Error("encode line event", "err", err)
		return
	}
	d.server.Broadcast(evt)
}

// SessionStarted marks the beginning of a supervised session.
func (d *Daemon) SessionStarted(session int) {
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
}

// SessionEnded records a session result and pushes it to viewers.
func (d *Daemon) SessionEnded(session int, res pipeline.Result) {
	d.mu.Lock()
	d.session = session
	d.last = &res
	d.mu.Unlock()

	ev := uds.SessionEvent{
		Session: session,
		UDID:    res.UDID,
		Status:  string(res.Status),
		Written: res.Written,
		Matched: res.Matched,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	evt, err := uds.NewEvent(uds.EventSessionStatus, ev)
	if err != nil {
		d.logger.Error("encode session event", "err", err)
		return
	}
	d.server.Broadcast(evt)
}

// Status snapshots the collector state.
func (d *Daemon) Status() uds.StatusResponse {
	st := uds.StatusResponse{
		PID:        os.Getpid(),
		Version:    d.info.Version,
		Backend:    d.info.Backend,
		App:        d.info.App,
		OutputPath: d.info.OutputPath,
		State:      pipeline.StateIdle.String(),
		StartedAt:  d.startedAt.UnixMilli(),
	}
	if d.progress != nil {
		st.State = d.progress.State().String()
		st.Written, st.Matched = d.progress.Progress()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	st.Session = d.session
	st.Devices = slices.Sorted(maps.Keys(d.devices))
	if d.last != nil {
		st.UDID = d.last.UDID
		st.LastStatus = string(d.last.Status)
		if d.last.Err != nil {
			st.LastError = d.last.Err.Error()
		}
	}
	return st
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodRecent, d.handleRecent)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

func (d *Daemon) handleStatus(_ context.Context, _ uds.Message) (any, error) {
	return d.Status(), nil
}

func (d *Daemon) handleRecent(_ context.Context, msg uds.Message) (any, error) {
	req := uds.RecentRequest{Limit: 100}
	if len(msg.Data) > 0 {
		if err := msg.UnmarshalData(&req); err != nil {
			return nil, err
		}
	}
	return d.recent.tail(req.Limit), nil
}

// lineBuffer is a simple ring buffer for recent matched lines.
type lineBuffer struct {
	lines []core.LogLine
	size  int
	mu    sync.Mutex
}

func newLineBuffer(size int) *lineBuffer {
	return &lineBuffer{size: size}
}

func (b *lineBuffer) write(l core.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, l)
	if len(b.lines) > b.size {
		b.lines = b.lines[len(b.lines)-b.size:]
	}
}

// tail returns up to n of the newest lines, oldest first.
func (b *lineBuffer) tail(n int) []core.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]core.LogLine, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}
