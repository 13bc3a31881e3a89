// Package presets generates starter configurations for the local machine.
package presets

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/modoterra/idevlog/pkg/config"
)

// UsbmuxdSocket is where usbmuxd listens on Linux and macOS.
var UsbmuxdSocket = "/var/run/usbmuxd"

// Generate creates a configuration collecting logs for app, choosing the
// backend available on this host.
func Generate(app string) (*config.Config, error) {
	if app == "" {
		return nil, errors.New("application id is required")
	}

	c := config.Default()
	c.Filter.App = app

	switch {
	case socketExists(UsbmuxdSocket):
		c.Backend = "goios"
	case binaryExists("tidevice"):
		c.Backend = "tidevice"
	default:
		return nil, fmt.Errorf("no usbmuxd socket at %s and no tidevice on PATH", UsbmuxdSocket)
	}

	c.Output.Path = filepath.Join(stateDir(), "${app}.log")
	return c, nil
}

// stateDir follows XDG_STATE_HOME, falling back to ~/.local/state.
func stateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "idevlog")
	}
	return filepath.Join("${home}", ".local", "state", "idevlog")
}

func socketExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func binaryExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
