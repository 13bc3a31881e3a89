package core

import "context"

// LogTransport opens line-oriented system log streams for a device.
type LogTransport interface {
	// OpenLogStream starts tailing the system log of the given device.
	OpenLogStream(ctx context.Context, udid string) (LogStream, error)
}

// LogStream yields raw log lines until the stream ends or fails.
// A stream cannot be restarted once closed.
type LogStream interface {
	// Next blocks for the next line. It returns io.EOF at end of stream.
	Next() (string, error)

	// Close terminates the stream and releases its resources.
	// It is idempotent and safe to call after partial consumption.
	Close() error
}
