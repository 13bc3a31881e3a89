package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sliceStream yields lines, then err (io.EOF when nil). With block set it
// blocks after the last line until closed.
type sliceStream struct {
	mu     sync.Mutex
	lines  []string
	err    error
	block  bool
	closed chan struct{}
	closes int
}

func newSliceStream(lines []string, err error, block bool) *sliceStream {
	return &sliceStream{lines: lines, err: err, block: block, closed: make(chan struct{})}
}

func (s *sliceStream) Next() (string, error) {
	s.mu.Lock()
	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		s.mu.Unlock()
		return line, nil
	}
	s.mu.Unlock()

	if s.block {
		<-s.closed
		return "", errors.New("use of closed stream")
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes == 0 {
		close(s.closed)
	}
	s.closes++
	return nil
}

func (s *sliceStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	stream    *sliceStream
	logStream core.LogStream // overrides stream when set
	openErr   error
	udid      string
}

func (t *fakeTransport) OpenLogStream(_ context.Context, udid string) (core.LogStream, error) {
	t.udid = udid
	if t.openErr != nil {
		return nil, t.openErr
	}
	if t.logStream != nil {
		return t.logStream, nil
	}
	return t.stream, nil
}

type fakeBackend struct {
	fakeTransport
	probe   core.ProbeResult
	devices []core.Device
	listErr error
}

func (b *fakeBackend) Probe(context.Context, time.Duration) core.ProbeResult { return b.probe }

func (b *fakeBackend) ListDevices(context.Context) ([]core.Device, error) {
	return b.devices, b.listErr
}
