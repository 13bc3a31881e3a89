package presets

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/modoterra/idevlog/pkg/config"
)

func TestGenerateRequiresApp(t *testing.T) {
	if _, err := Generate(""); err == nil {
		t.Fatal("expected error for empty app")
	}
}

func TestGeneratePrefersUsbmuxd(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "usbmuxd")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	orig := UsbmuxdSocket
	UsbmuxdSocket = sock
	defer func() { UsbmuxdSocket = orig }()
	t.Setenv("XDG_STATE_HOME", dir)

	c, err := Generate("com.example.app")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.Backend != "goios" {
		t.Errorf("backend: got %q, want goios", c.Backend)
	}
	if want := filepath.Join(dir, "idevlog", "${app}.log"); c.Output.Path != want {
		t.Errorf("output path: got %q, want %q", c.Output.Path, want)
	}
	if errs := config.Validate(c); len(errs) != 0 {
		t.Errorf("generated config invalid: %v", errs)
	}
}

func TestGenerateFallsBackToTidevice(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tidevice"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	orig := UsbmuxdSocket
	UsbmuxdSocket = filepath.Join(dir, "absent")
	defer func() { UsbmuxdSocket = orig }()

	c, err := Generate("com.example.app")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.Backend != "tidevice" {
		t.Errorf("backend: got %q, want tidevice", c.Backend)
	}
}

func TestGenerateNoBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)

	orig := UsbmuxdSocket
	UsbmuxdSocket = filepath.Join(dir, "absent")
	defer func() { UsbmuxdSocket = orig }()

	if _, err := Generate("com.example.app"); err == nil {
		t.Fatal("expected error when no backend is available")
	}
}
