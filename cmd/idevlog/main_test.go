package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/modoterra/idevlog/pkg/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// fakeTidevice installs a shell script standing in for the tidevice CLI and
// points the tidevice backend at it.
func fakeTidevice(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	script := `#!/bin/sh
case "$*" in
  wait-for-device) exit 0 ;;
  "list --json") echo '[{"udid": "FAKE-UDID", "device_id": 7, "conn_type": "usb"}]' ;;
  "-u FAKE-UDID syslog")
    echo "Oct 19 10:00:00 iPhone SpringBoard[1] <Notice>: unrelated"
    echo "Oct 19 10:00:01 iPhone App(com.example.app)[42] <Notice>: request timeout"
    echo "Oct 19 10:00:02 iPhone App(com.example.app)[42] <Notice>: request ok"
    ;;
  "-u FAKE-UDID applist") echo "com.example.app Example 1.0" ;;
  *) exit 2 ;;
esac
`
	bin := filepath.Join(t.TempDir(), "tidevice")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IDEVLOG_BACKEND", "tidevice")
	t.Setenv("IDEVLOG_TIDEVICE_BINARY", bin)
	t.Setenv("IDEVLOG_LOG_LEVEL", "error")
}

func TestConfigValidateCommand(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "idevlog.yaml")
	content := []byte(`version: 1
backend: goios
filter:
  app: com.example.app
`)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "validate", tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 2
backend: usb
`)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "validate", tmp)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"version must be 1", "unknown backend", "filter.app is required"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestConfigInitTidevice(t *testing.T) {
	fakeTidevice(t)
	t.Setenv("PATH", filepath.Dir(os.Getenv("IDEVLOG_TIDEVICE_BINARY")))
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	// Hosts with a live usbmuxd pick goios instead; either backend is fine here.
	tmp := filepath.Join(t.TempDir(), "idevlog.yaml")
	if _, err := execute(t, "--config", tmp, "config", "init", "--app", "com.example.app"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "app: com.example.app") {
		t.Errorf("generated config missing app: %s", data)
	}

	if _, err := execute(t, "--config", tmp, "config", "init", "--app", "com.example.app"); err == nil {
		t.Error("expected refusal to overwrite without --force")
	}
}

func TestDevicesCommandJSON(t *testing.T) {
	fakeTidevice(t)

	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "devices", "--json")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	var devices []core.Device
	if err := json.Unmarshal([]byte(out), &devices); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(devices) != 1 || devices[0].UDID != "FAKE-UDID" || devices[0].Slot != 7 {
		t.Errorf("devices: %+v", devices)
	}
}

func TestAppsCommand(t *testing.T) {
	fakeTidevice(t)

	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "apps")
	if err != nil {
		t.Fatalf("apps: %v", err)
	}
	if !strings.Contains(out, "com.example.app") {
		t.Errorf("apps output: %s", out)
	}
}

func TestWaitCommand(t *testing.T) {
	fakeTidevice(t)

	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "wait", "--max-retries", "1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !strings.Contains(out, "connected") {
		t.Errorf("wait output: %s", out)
	}
}

func TestCollectCommandPersistsApplicationLines(t *testing.T) {
	fakeTidevice(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "out.log")

	out, err := execute(t,
		"--config", filepath.Join(dir, "none.yaml"),
		"--socket", filepath.Join(dir, "s.sock"),
		"collect",
		"--app", "com.example.app",
		"--output-keyword", "timeout",
		"--output", output,
	)
	if err != nil {
		t.Fatalf("collect: %v\n%s", err, out)
	}
	if !strings.Contains(out, "success") {
		t.Errorf("collect output: %s", out)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	want := "Oct 19 10:00:01 iPhone App(com.example.app)[42] <Notice>: request timeout\n" +
		"Oct 19 10:00:02 iPhone App(com.example.app)[42] <Notice>: request ok\n"
	if string(data) != want {
		t.Errorf("output file:\n%s\nwant:\n%s", data, want)
	}
}

func TestCollectRequiresApp(t *testing.T) {
	fakeTidevice(t)
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "collect", "--no-socket"); err == nil {
		t.Fatal("expected error without an application id")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "idevlog ") {
		t.Errorf("version output: %q", out)
	}
}
