package uds

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startServer runs srv on a fresh socket and returns a connected client.
func startServer(t *testing.T, handlers map[string]HandlerFunc) (*Server, *Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewServer(sock, logger)
	for method, h := range handlers {
		srv.Handle(method, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})

	var client *Client
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := Dial(sock)
		if err == nil {
			client = c
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ping(_ context.Context, _ Message) (any, error) {
	return PingResponse{Pong: true}, nil
}

func TestPingRoundTrip(t *testing.T) {
	_, client := startServer(t, map[string]HandlerFunc{MethodPing: ping})

	var pong PingResponse
	if err := client.Call(callCtx(t), MethodPing, nil, &pong); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !pong.Pong {
		t.Error("expected pong=true")
	}
}

func TestUnknownMethod(t *testing.T) {
	_, client := startServer(t, nil)

	_, err := client.Request(callCtx(t), "NoSuchMethod", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("err = %v, want unknown method", err)
	}
}

func TestHandlerErrorIsReturned(t *testing.T) {
	_, client := startServer(t, map[string]HandlerFunc{
		MethodRecent: func(context.Context, Message) (any, error) {
			return nil, errors.New("limit out of range")
		},
	})

	err := client.Call(callCtx(t), MethodRecent, RecentRequest{Limit: -1}, nil)
	if err == nil || !strings.Contains(err.Error(), "limit out of range") {
		t.Errorf("err = %v", err)
	}
}

func TestCallDecodesStatus(t *testing.T) {
	srv, client := startServer(t, map[string]HandlerFunc{
		MethodStatus: func(context.Context, Message) (any, error) {
			return StatusResponse{App: "com.example.app", State: "streaming", Written: 7}, nil
		},
	})

	var st StatusResponse
	if err := client.Call(callCtx(t), MethodStatus, nil, &st); err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.App != "com.example.app" || st.State != "streaming" || st.Written != 7 {
		t.Errorf("unexpected status: %+v", st)
	}
	if n := srv.Clients(); n != 1 {
		t.Errorf("clients: got %d, want 1", n)
	}
}

func TestBroadcastReachesViewer(t *testing.T) {
	srv, client := startServer(t, map[string]HandlerFunc{MethodPing: ping})

	events := make(chan Message, 1)
	client.OnEvent(func(msg Message) { events <- msg })

	// The server tracks the viewer once a request has round-tripped.
	if err := client.Call(callCtx(t), MethodPing, nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	evt, err := NewEvent(EventSessionStatus, SessionEvent{Session: 2, Status: "success", Written: 3})
	if err != nil {
		t.Fatal(err)
	}
	srv.Broadcast(evt)

	select {
	case msg := <-events:
		if msg.Method != EventSessionStatus || msg.Type != MsgTypeEvt {
			t.Fatalf("got %s/%s", msg.Type, msg.Method)
		}
		var ev SessionEvent
		if err := msg.UnmarshalData(&ev); err != nil {
			t.Fatal(err)
		}
		if ev.Session != 2 || ev.Status != "success" || ev.Written != 3 {
			t.Errorf("event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestViewerDisconnectIsForgotten(t *testing.T) {
	srv, client := startServer(t, map[string]HandlerFunc{MethodPing: ping})
	if err := client.Call(callCtx(t), MethodPing, nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want 0", srv.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSocketIsOwnerOnly(t *testing.T) {
	srv, client := startServer(t, map[string]HandlerFunc{MethodPing: ping})
	if err := client.Call(callCtx(t), MethodPing, nil, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	info, err := os.Stat(srv.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != socketMode {
		t.Errorf("socket mode %o, want %o", perm, socketMode)
	}
}

func TestUnmarshalDataEmpty(t *testing.T) {
	msg := Message{Method: MethodStatus}
	var st StatusResponse
	if err := msg.UnmarshalData(&st); err == nil {
		t.Error("expected error for empty payload")
	}
}
