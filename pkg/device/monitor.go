// Package device supervises the presence of the attached device and resolves
// its identity.
package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/metrics"
)

const DefaultProbeTimeout = 2 * time.Second

// Prober performs a single bounded-time connectivity check.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) core.ProbeResult
}

// RetryBudget counts probe attempts against an optional cap.
// MaxAttempts <= 0 means unbounded.
type RetryBudget struct {
	MaxAttempts int
	Used        int
}

// Exhausted reports whether no attempts remain.
func (b *RetryBudget) Exhausted() bool {
	return b.MaxAttempts > 0 && b.Used >= b.MaxAttempts
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	ProbeTimeout time.Duration
	RetryDelay   time.Duration // pause between failed attempts; 0 polls back-to-back
}

// Monitor waits for a device to become reachable.
type Monitor struct {
	prober  Prober
	opts    MonitorOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMonitor creates a connection monitor over the given prober.
func NewMonitor(p Prober, opts MonitorOptions, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{prober: p, opts: opts, metrics: m, logger: logger}
}

// AwaitConnection probes until a device is connected, the retry budget is
// spent, or ctx is cancelled. maxRetries <= 0 retries until cancelled.
func (m *Monitor) AwaitConnection(ctx context.Context, maxRetries int) bool {
	budget := RetryBudget{MaxAttempts: maxRetries}
	return m.await(ctx, &budget)
}

func (m *Monitor) await(ctx context.Context, budget *RetryBudget) bool {
	for !budget.Exhausted() {
		if ctx.Err() != nil {
			m.logger.Info("stopped waiting for device", "attempts", budget.Used)
			return false
		}

		result := m.prober.Probe(ctx, m.opts.ProbeTimeout)
		m.metrics.ObserveProbe(result)

		switch result {
		case core.ProbeConnected:
			if budget.Used == 0 {
				m.logger.Info("device connected")
			} else {
				m.logger.Info("reconnected", "attempts", budget.Used+1)
			}
			return true
		case core.ProbeNotConnected:
			m.logger.Warn("device not connected")
		case core.ProbeTimedOut:
			m.logger.Info("waiting for device", "attempt", budget.Used+1)
		default:
			m.logger.Error("device probe failed", "result", result.String())
		}
		budget.Used++

		if m.opts.RetryDelay > 0 && !budget.Exhausted() {
			select {
			case <-ctx.Done():
			case <-time.After(m.opts.RetryDelay):
			}
		}
	}

	m.logger.Warn("max retries reached, device still not connected", "attempts", budget.Used)
	return false
}
