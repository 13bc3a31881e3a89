package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/modoterra/idevlog/pkg/metrics"
)

const (
	DefaultDequeueWait = 3 * time.Second
	DefaultMaxBackups  = 5

	defaultBufSize = 64 * 1024
)

// ErrWrite wraps output file failures.
var ErrWrite = errors.New("write output")

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithDequeueWait sets how long one dequeue attempt waits. Default: 3s.
func WithDequeueWait(d time.Duration) WriterOption {
	return func(w *Writer) { w.wait = d }
}

// WithMaxSize sets the file size (bytes) at which rotation triggers.
// 0 (default) disables rotation.
func WithMaxSize(bytes int64) WriterOption {
	return func(w *Writer) { w.maxSize = bytes }
}

// WithMaxBackups sets how many rotated segments are kept. Default: 5.
func WithMaxBackups(n int) WriterOption {
	return func(w *Writer) { w.maxBackups = n }
}

// WithCompression zstd-compresses rotated segments.
func WithCompression() WriterOption {
	return func(w *Writer) { w.compress = true }
}

// WithOnWrite registers a callback invoked after each line is written.
func WithOnWrite(f func(line string)) WriterOption {
	return func(w *Writer) { w.onWrite = f }
}

// WithWriterMetrics records written lines and rotations.
func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// Writer drains the queue into an append-only text file, one line per record.
// It owns the file exclusively for the duration of Run.
type Writer struct {
	path       string
	wait       time.Duration
	maxSize    int64 // 0 = no rotation
	maxBackups int
	compress   bool
	onWrite    func(string)
	metrics    *metrics.Metrics
	logger     *slog.Logger

	f       *os.File
	w       *bufio.Writer
	written int64
	lines   int
}

// NewWriter creates a writer appending to path.
func NewWriter(path string, opts ...WriterOption) *Writer {
	w := &Writer{
		path:       path,
		wait:       DefaultDequeueWait,
		maxBackups: DefaultMaxBackups,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.wait <= 0 {
		w.wait = DefaultDequeueWait
	}
	if w.maxBackups <= 0 {
		w.maxBackups = DefaultMaxBackups
	}
	return w
}

// Lines returns how many lines the last Run wrote.
func (w *Writer) Lines() int { return w.lines }

// Run drains q until the queue is closed and drained. Once stop is raised, a
// dequeue that times out also ends the run.
func (w *Writer) Run(q *Queue, stop *StopSignal) (err error) {
	w.lines = 0
	if err := w.openFile(); err != nil {
		return err
	}
	defer func() {
		if cerr := w.closeFile(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for {
		line, derr := q.Dequeue(w.wait)
		switch {
		case errors.Is(derr, ErrQueueClosed):
			return nil
		case errors.Is(derr, ErrQueueEmpty):
			if err := w.flush(); err != nil {
				return err
			}
			if stop.IsSet() {
				return nil
			}
			continue
		}

		if err := w.writeLine(line); err != nil {
			w.logger.Error("write output failed", "path", w.path, "err", err)
			return err
		}
		w.metrics.ObserveWrite(len(line)+1, q.Len())
		if q.Len() == 0 {
			if err := w.flush(); err != nil {
				return err
			}
		}
		if w.onWrite != nil {
			w.onWrite(line)
		}
	}
}

func (w *Writer) writeLine(line string) error {
	n := int64(len(line) + 1)
	if w.maxSize > 0 && w.written > 0 && w.written+n > w.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("%w: rotate: %w", ErrWrite, err)
		}
	}
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w.written += n
	w.lines++
	return nil
}

func (w *Writer) flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrWrite, err)
	}
	return nil
}

// openFile opens (or creates) the output file and wraps it in a bufio.Writer.
func (w *Writer) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %w", ErrWrite, err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	w.f = f
	w.w = bufio.NewWriterSize(f, defaultBufSize)
	w.written = info.Size()
	return nil
}

func (w *Writer) closeFile() error {
	ferr := w.flush()
	if err := w.f.Close(); err != nil && ferr == nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return ferr
}

// rotate closes the current file, shifts older segments up by one
// ({path}.1 → {path}.2 …), moves the current file to {path}.1 and reopens.
func (w *Writer) rotate() error {
	if err := w.closeFile(); err != nil {
		return err
	}

	ext := ""
	if w.compress {
		ext = ".zst"
	}
	os.Remove(fmt.Sprintf("%s.%d%s", w.path, w.maxBackups, ext))
	for i := w.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d%s", w.path, i, ext)
		to := fmt.Sprintf("%s.%d%s", w.path, i+1, ext)
		os.Rename(from, to) // segment may not exist
	}

	if w.compress {
		if err := compressFile(w.path, w.path+".1.zst"); err != nil {
			return err
		}
		if err := os.Remove(w.path); err != nil {
			return err
		}
	} else if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}

	w.metrics.ObserveRotation()
	w.logger.Info("output rotated", "path", w.path, "compressed", w.compress)
	return w.openFile()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("compress: %w", err)
	}
	return out.Close()
}
