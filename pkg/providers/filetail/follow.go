// Package filetail follows a collected log file, including across rotation.
package filetail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const defaultPoll = 250 * time.Millisecond

// Follower tails one file path. When the file is rotated away or truncated
// it continues from the start of the new content.
type Follower struct {
	path   string
	poll   time.Duration
	logger *slog.Logger
}

// New creates a follower for path.
func New(path string, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{path: path, poll: defaultPoll, logger: logger}
}

// Follow calls fn for every complete line until ctx is cancelled. With
// fromStart false, existing content is skipped.
func (f *Follower) Follow(ctx context.Context, fromStart bool, fn func(line string)) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	defer func() { file.Close() }()

	if !fromStart {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", f.path, err)
		}
	}
	f.logger.Info("tailing file", "path", f.path)

	reader := bufio.NewReader(file)
	var partial strings.Builder
	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			fn(strings.TrimSuffix(partial.String(), "\n"))
			partial.Reset()
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", f.path, err)
		}

		// No new data; poll
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.poll):
		}

		switch f.check(file) {
		case rotated:
			next, err := os.Open(f.path)
			if err != nil {
				continue
			}
			f.logger.Debug("file rotated, reopening", "path", f.path)
			file.Close()
			file = next
			reader.Reset(file)
			partial.Reset()
		case truncated:
			file.Seek(0, io.SeekStart)
			reader.Reset(file)
			partial.Reset()
		}
	}
}

type fileChange int

const (
	unchanged fileChange = iota
	rotated
	truncated
)

func (f *Follower) check(open *os.File) fileChange {
	openInfo, err := open.Stat()
	if err != nil {
		return unchanged
	}
	pathInfo, err := os.Stat(f.path)
	if err != nil {
		// Between rename and re-create; try again next poll.
		return unchanged
	}
	if !os.SameFile(openInfo, pathInfo) {
		return rotated
	}
	pos, err := open.Seek(0, io.SeekCurrent)
	if err == nil && openInfo.Size() < pos {
		return truncated
	}
	return unchanged
}
