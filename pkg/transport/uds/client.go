package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

// ErrClosed is returned by calls pending when the connection ends.
var ErrClosed = errors.New("collector connection closed")

// EventHandler receives server-pushed events on the client's read goroutine.
type EventHandler func(msg Message)

// Client is a viewer connection to a running collector.
type Client struct {
	conn net.Conn

	mu      sync.Mutex
	pending map[string]chan Message
	events  EventHandler

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the collector socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// OnEvent sets the handler for pushed events. Events arriving with no
// handler are discarded.
func (c *Client) OnEvent(h EventHandler) {
	c.mu.Lock()
	c.events = h
	c.mu.Unlock()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call sends a request and decodes the response payload into out, which may
// be nil when only success matters.
func (c *Client) Call(ctx context.Context, method string, req, out any) error {
	resp, err := c.Request(ctx, method, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

// Request sends a request and waits for the response with the same ID.
func (c *Client) Request(ctx context.Context, method string, data any) (Message, error) {
	req, err := NewRequest(method, data)
	if err != nil {
		return Message{}, fmt.Errorf("%s: encode request: %w", method, err)
	}
	line, err := encodeLine(req)
	if err != nil {
		return Message{}, fmt.Errorf("%s: encode request: %w", method, err)
	}

	reply := make(chan Message, 1)
	c.mu.Lock()
	c.pending[req.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if _, err := c.conn.Write(line); err != nil {
		return Message{}, fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case resp := <-reply:
		if resp.Error != "" {
			return resp, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, fmt.Errorf("%s: %w", method, ErrClosed)
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.markDone()
	return c.conn.Close()
}

func (c *Client) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readLoop() {
	defer c.markDone()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		c.deliver(msg)
	}
}

// deliver routes a response to its waiting caller and an event to the handler.
func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	reply := c.pending[msg.ID]
	h := c.events
	c.mu.Unlock()

	switch msg.Type {
	case MsgTypeRes:
		if reply != nil {
			reply <- msg
		}
	case MsgTypeEvt:
		if h != nil {
			h(msg)
		}
	}
}
