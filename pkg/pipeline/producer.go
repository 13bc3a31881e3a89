package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/filter"
	"github.com/modoterra/idevlog/pkg/metrics"
)

var (
	// ErrStreamOpen wraps failures to open the device log stream.
	ErrStreamOpen = errors.New("open log stream")

	// ErrStream wraps transport failures while reading the stream.
	ErrStream = errors.New("log stream")
)

// Producer tails a device log and queues the lines that pass stage 1.
type Producer struct {
	transport core.LogTransport
	metrics   *metrics.Metrics
	logger    *slog.Logger

	enqueued atomic.Int64
}

// NewProducer creates a producer reading from transport.
func NewProducer(t core.LogTransport, m *metrics.Metrics, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{transport: t, metrics: m, logger: logger}
}

// Enqueued returns how many lines the last Run queued.
func (p *Producer) Enqueued() int64 { return p.enqueued.Load() }

// Run streams the device log into q until the stream ends, stop is raised,
// or the transport fails. End of stream and stop both return nil.
func (p *Producer) Run(ctx context.Context, udid string, criteria filter.Criteria, q *Queue, stop *StopSignal) error {
	p.enqueued.Store(0)
	stream, err := p.transport.OpenLogStream(ctx, udid)
	if err != nil {
		p.logger.Error("open log stream failed", "udid", udid, "err", err)
		return fmt.Errorf("%w %s: %w", ErrStreamOpen, udid, err)
	}

	// A read may block indefinitely; closing the stream unblocks it.
	done := make(chan struct{})
	go func() {
		select {
		case <-stop.Done():
			stream.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		if cerr := stream.Close(); cerr != nil {
			p.logger.Debug("close log stream", "udid", udid, "err", cerr)
		}
	}()

	p.logger.Info("streaming device log", "udid", udid, "app", criteria.ApplicationID, "keyword", criteria.Keyword)

	for !stop.IsSet() {
		line, rerr := stream.Next()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || stop.IsSet() || ctx.Err() != nil {
				return nil
			}
			p.logger.Error("read log stream failed", "udid", udid, "err", rerr)
			return fmt.Errorf("%w %s: %w", ErrStream, udid, rerr)
		}
		p.metrics.ObserveRead()

		if !criteria.Match(line) {
			continue
		}
		if !q.Enqueue(stop, line) {
			return nil
		}
		p.enqueued.Add(1)
		p.metrics.ObserveEnqueue(q.Len())
	}
	return nil
}
