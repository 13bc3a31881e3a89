package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/modoterra/idevlog/pkg/pipeline"
)

// RestartPolicy decides whether a finished session is started again.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// SessionFunc runs one collection session to completion.
type SessionFunc func(ctx context.Context, session int) pipeline.Result

// Supervisor re-invokes the collection pipeline according to a restart policy.
type Supervisor struct {
	run         SessionFunc
	restart     RestartPolicy
	maxRestarts int
	onResult    func(session int, res pipeline.Result)
	after       func(time.Duration) <-chan time.Time
	logger      *slog.Logger
}

// NewSupervisor creates a session supervisor. maxRestarts <= 0 means no limit.
func NewSupervisor(run SessionFunc, restart RestartPolicy, maxRestarts int, logger *slog.Logger) *Supervisor {
	if restart == "" {
		restart = RestartNever
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		run:         run,
		restart:     restart,
		maxRestarts: maxRestarts,
		after:       time.After,
		logger:      logger,
	}
}

// OnResult registers a callback invoked after every session.
func (s *Supervisor) OnResult(fn func(session int, res pipeline.Result)) {
	s.onResult = fn
}

// Run executes sessions until the policy stops restarting or ctx is
// cancelled, and returns the last session's result.
func (s *Supervisor) Run(ctx context.Context) pipeline.Result {
	failures := 0
	for session := 1; ; session++ {
		res := s.run(ctx, session)
		if s.onResult != nil {
			s.onResult(session, res)
		}

		if ctx.Err() != nil || res.Status == pipeline.StatusStopped {
			return res
		}
		if !s.shouldRestart(res) {
			return res
		}
		if s.maxRestarts > 0 && session > s.maxRestarts {
			s.logger.Warn("restart limit reached", "restarts", s.maxRestarts, "status", string(res.Status))
			return res
		}

		if res.Status.Failed() {
			failures++
		} else {
			failures = 0
		}
		delay := backoff(max(failures, 1))
		s.logger.Info("restarting session", "delay", delay, "attempt", session, "status", string(res.Status))

		select {
		case <-s.after(delay):
		case <-ctx.Done():
			return res
		}
	}
}

func (s *Supervisor) shouldRestart(res pipeline.Result) bool {
	switch s.restart {
	case RestartAlways:
		return true
	case RestartOnFailure:
		return res.Status.Failed()
	default:
		return false
	}
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
