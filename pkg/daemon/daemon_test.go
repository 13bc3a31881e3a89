package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/pipeline"
	"github.com/modoterra/idevlog/pkg/transport/uds"
)

type fixedProgress struct {
	state            pipeline.State
	written, matched int64
}

func (p fixedProgress) State() pipeline.State            { return p.state }
func (p fixedProgress) Progress() (written, matched int64) { return p.written, p.matched }

func startDaemon(t *testing.T, progress Progress) (*Daemon, *uds.Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "idevlog.sock")
	d := New(sock, Info{Version: "test", Backend: "goios", App: "com.example.app", OutputPath: "/tmp/out.log"}, progress, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		d.Shutdown()
	})

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := uds.Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return d, client
}

func TestStatusReportsProgressAndLastSession(t *testing.T) {
	d, client := startDaemon(t, fixedProgress{state: pipeline.StateStreaming, written: 12, matched: 3})

	d.SessionStarted(1)
	d.SessionEnded(1, pipeline.Result{Status: pipeline.StatusPartial, UDID: "UDID-1", Err: errors.New("stream reset")})
	d.SessionStarted(2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var st uds.StatusResponse
	if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != "streaming" || st.Written != 12 || st.Matched != 3 {
		t.Errorf("progress: %+v", st)
	}
	if st.Session != 2 || st.UDID != "UDID-1" || st.LastStatus != string(pipeline.StatusPartial) || st.LastError != "stream reset" {
		t.Errorf("session fields: %+v", st)
	}
	if st.App != "com.example.app" || st.Backend != "goios" || st.PID != os.Getpid() {
		t.Errorf("info fields: %+v", st)
	}
}

func TestPublishLineBroadcastsAndBuffers(t *testing.T) {
	d, client := startDaemon(t, nil)

	events := make(chan uds.Message, 4)
	client.OnEvent(func(msg uds.Message) { events <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Request(ctx, uds.MethodPing, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	d.PublishLine(core.LogLine{UDID: "UDID-1", TsUnixMs: 1, Line: "com.example.app started"})

	select {
	case msg := <-events:
		var l core.LogLine
		if err := msg.UnmarshalData(&l); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Method != uds.EventLogsLine || l.Line != "com.example.app started" {
			t.Errorf("event: %s %+v", msg.Method, l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line event")
	}

	var recent []core.LogLine
	if err := client.Call(ctx, uds.MethodRecent, uds.RecentRequest{Limit: 10}, &recent); err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].UDID != "UDID-1" {
		t.Errorf("recent: %+v", recent)
	}
}

func TestLineBufferTail(t *testing.T) {
	b := newLineBuffer(3)
	for i := 0; i < 5; i++ {
		b.write(core.LogLine{Line: fmt.Sprintf("line %d", i)})
	}

	all := b.tail(0)
	if len(all) != 3 || all[0].Line != "line 2" || all[2].Line != "line 4" {
		t.Errorf("tail(0): %+v", all)
	}
	two := b.tail(2)
	if len(two) != 2 || two[0].Line != "line 3" {
		t.Errorf("tail(2): %+v", two)
	}
}
