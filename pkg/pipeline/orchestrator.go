// Package pipeline moves filtered device log lines from a log stream to a
// local file.
//
// A Producer tails the device log and queues lines belonging to the target
// application. A Writer drains the queue into an append-only file. The
// Orchestrator connects the two, owns the queue and the stop signal, and
// guarantees that every exit path raises the signal and joins both workers.
// Lines queued before the stop signal are written before the run ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/device"
	"github.com/modoterra/idevlog/pkg/filter"
	"github.com/modoterra/idevlog/pkg/metrics"
)

const DefaultJoinTimeout = 10 * time.Second

// ErrJoinTimeout is reported when workers outlive the join deadline.
var ErrJoinTimeout = errors.New("join timeout")

// State is the orchestrator's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is the terminal outcome of one collection run.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusConnectionFailed Status = "connection failed"
	StatusNoDevice         Status = "no device"
	StatusWriteFailed      Status = "consumer write failure"
	StatusStopped          Status = "stopped by user"
	StatusPartial          Status = "partial: stream error"
	StatusJoinTimeout      Status = "partial: join timeout"
)

// Failed reports whether the run ended without collecting as intended.
// A user stop is not a failure.
func (s Status) Failed() bool {
	return s != StatusSuccess && s != StatusStopped
}

// Result describes a finished run.
type Result struct {
	Status   Status
	UDID     string
	Enqueued int
	Written  int
	Matched  int
	Err      error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Status, r.Err)
	}
	return string(r.Status)
}

// Options configures an Orchestrator.
type Options struct {
	MaxRetries      int // <= 0 retries until cancelled
	OutputPath      string
	QueueSize       int
	DequeueWait     time.Duration
	JoinTimeout     time.Duration
	PrintMatches    bool
	MaxSize         int64
	MaxBackups      int
	CompressRotated bool

	// Keyword is the producer-side keyword applied with the application id.
	Keyword string

	// OnMatch receives every persisted line that passes the output keyword.
	OnMatch func(core.LogLine)
}

// Orchestrator runs one collection pipeline at a time.
type Orchestrator struct {
	monitor   *device.Monitor
	locator   *device.Locator
	transport core.LogTransport
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger

	state   atomic.Int32
	written atomic.Int64
	matched atomic.Int64
}

// NewOrchestrator wires the pipeline's collaborators.
func NewOrchestrator(monitor *device.Monitor, locator *device.Locator, transport core.LogTransport, opts Options, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		monitor:   monitor,
		locator:   locator,
		transport: transport,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Progress returns lines written and matched by the current or last run.
func (o *Orchestrator) Progress() (written, matched int64) {
	return o.written.Load(), o.matched.Load()
}

// CollectLogs collects from the first attached device.
func (o *Orchestrator) CollectLogs(ctx context.Context, applicationID, outputKeyword string) Result {
	return o.Collect(ctx, "", applicationID, outputKeyword)
}

// Collect waits for the device, streams its log through the filters into the
// output file, and returns once the stream ends or ctx is cancelled.
func (o *Orchestrator) Collect(ctx context.Context, udid, applicationID, outputKeyword string) (res Result) {
	o.written.Store(0)
	o.matched.Store(0)
	defer func() {
		o.setState(StateTerminated)
		o.metrics.ObserveSession(string(res.Status))
		o.logger.Info("collection finished", "status", string(res.Status), "udid", res.UDID,
			"written", res.Written, "matched", res.Matched, "err", res.Err)
	}()

	o.setState(StateConnecting)
	if !o.monitor.AwaitConnection(ctx, o.opts.MaxRetries) {
		if ctx.Err() != nil {
			return Result{Status: StatusStopped, Err: ctx.Err()}
		}
		return Result{Status: StatusConnectionFailed}
	}

	if udid == "" {
		e := o.locator.Enumerate(ctx)
		if e.Failed() {
			o.logger.Error("list devices failed", "err", e.Err)
			return Result{Status: StatusNoDevice, Err: fmt.Errorf("enumerate devices: %w", e.Err)}
		}
		var ok bool
		if udid, ok = e.FirstUDID(); !ok {
			o.logger.Error("no device connected or UDID not found")
			return Result{Status: StatusNoDevice}
		}
	}

	return o.stream(ctx, udid, filter.Criteria{ApplicationID: applicationID, Keyword: o.opts.Keyword}, outputKeyword)
}

func (o *Orchestrator) stream(ctx context.Context, udid string, criteria filter.Criteria, outputKeyword string) Result {
	o.setState(StateStreaming)
	o.logger.Info("collecting device log", "udid", udid, "output", o.opts.OutputPath)

	q := NewQueue(o.opts.QueueSize)
	stop := NewStopSignal()
	defer stop.Set()

	wopts := []WriterOption{
		WithDequeueWait(o.opts.DequeueWait),
		WithMaxSize(o.opts.MaxSize),
		WithMaxBackups(o.opts.MaxBackups),
		WithOnWrite(o.matcher(udid, outputKeyword)),
		WithWriterMetrics(o.metrics),
		WithWriterLogger(o.logger),
	}
	if o.opts.CompressRotated {
		wopts = append(wopts, WithCompression())
	}
	writer := NewWriter(o.opts.OutputPath, wopts...)
	producer := NewProducer(o.transport, o.metrics, o.logger)

	var (
		wg                sync.WaitGroup
		writeErr, prodErr error
		prodDone          = make(chan struct{})
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		writeErr = writer.Run(q, stop)
		if writeErr != nil {
			// Nothing can be persisted anymore; end production too.
			stop.Set()
		}
	}()
	go func() {
		defer wg.Done()
		defer close(prodDone)
		prodErr = producer.Run(ctx, udid, criteria, q, stop)
		// The producer is the only sender.
		q.Close()
	}()

	select {
	case <-prodDone:
	case <-ctx.Done():
		o.logger.Info("interrupt received, stopping collection")
	case <-stop.Done():
	}

	o.setState(StateDraining)
	stop.Set()

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(o.opts.JoinTimeout):
		o.logger.Warn("workers did not finish before join timeout", "timeout", o.opts.JoinTimeout)
		written, matched := o.Progress()
		return Result{Status: StatusJoinTimeout, UDID: udid, Enqueued: int(producer.Enqueued()),
			Written: int(written), Matched: int(matched), Err: ErrJoinTimeout}
	}

	written, matched := o.Progress()
	res := Result{UDID: udid, Enqueued: int(producer.Enqueued()), Written: int(written), Matched: int(matched)}
	switch {
	case writeErr != nil:
		res.Status, res.Err = StatusWriteFailed, writeErr
	case ctx.Err() != nil:
		res.Status = StatusStopped
	case prodErr != nil:
		res.Status, res.Err = StatusPartial, prodErr
	default:
		res.Status = StatusSuccess
	}
	return res
}

// matcher returns the writer hook that counts persisted lines and reports
// those matching the output keyword.
func (o *Orchestrator) matcher(udid, outputKeyword string) func(string) {
	return func(line string) {
		o.written.Add(1)
		if !o.opts.PrintMatches || !filter.Stage2(line, outputKeyword) {
			return
		}
		o.matched.Add(1)
		o.metrics.ObserveMatch()
		o.logger.Info("log", "line", line)
		if o.opts.OnMatch != nil {
			o.opts.OnMatch(core.LogLine{UDID: udid, TsUnixMs: time.Now().UnixMilli(), Line: line})
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}
