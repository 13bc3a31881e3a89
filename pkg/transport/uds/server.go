package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	writeTimeout = time.Second
	maxLineSize  = 1024 * 1024
	socketMode   = 0o600
)

// HandlerFunc processes a request and returns a response payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// Server accepts viewers on a unix socket, answers their requests and pushes
// collector events to all of them.
type Server struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	clients  map[net.Conn]struct{}

	// Responses and events share connections.
	writeMu sync.Mutex
}

// NewServer creates a server bound to socketPath once Start is called.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[net.Conn]struct{}),
		logger:     logger,
	}
}

// Handle registers h for method. Register before Start.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Start listens until ctx is cancelled. A socket file left over from a
// previous run is replaced.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("status socket listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "err", err)
			continue
		}
		s.track(conn)
		go s.serve(ctx, conn)
	}
}

// Broadcast pushes an event to every viewer. Viewers that cannot take it
// within writeTimeout are disconnected.
func (s *Server) Broadcast(msg Message) {
	line, err := encodeLine(msg)
	if err != nil {
		s.logger.Error("encode event", "method", msg.Method, "err", err)
		return
	}

	s.mu.RLock()
	conns := make([]net.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		if err := s.send(conn, line); err != nil {
			s.logger.Warn("dropping slow viewer", "method", msg.Method, "err", err)
			s.drop(conn)
		}
	}
}

// Clients returns the number of connected viewers.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes the listener and every viewer, and removes the socket file.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) drop(conn net.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer s.drop(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var req Message
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.logger.Warn("invalid request", "err", err)
			continue
		}
		if req.Type != MsgTypeReq {
			continue
		}

		line, err := encodeLine(s.dispatch(ctx, req))
		if err != nil {
			s.logger.Error("encode response", "method", req.Method, "err", err)
			continue
		}
		if err := s.send(conn, line); err != nil {
			s.logger.Warn("write response failed", "method", req.Method, "err", err)
			return
		}
	}
}

// dispatch runs the handler for req and builds the correlated response.
func (s *Server) dispatch(ctx context.Context, req Message) Message {
	h, ok := s.handlers[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, req.Method, "unknown method: "+req.Method)
	}
	result, err := h(ctx, req)
	if err != nil {
		return NewErrorResponse(req.ID, req.Method, err.Error())
	}
	resp, err := NewResponse(req.ID, req.Method, result)
	if err != nil {
		return NewErrorResponse(req.ID, req.Method, fmt.Sprintf("encode result: %v", err))
	}
	return resp
}

func (s *Server) send(conn net.Conn, line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write(line)
	return err
}

func encodeLine(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
