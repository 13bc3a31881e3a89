package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/modoterra/idevlog/internal/buildinfo"
	"github.com/modoterra/idevlog/pkg/config"
	"github.com/modoterra/idevlog/pkg/config/presets"
	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/daemon/service"
	"github.com/modoterra/idevlog/pkg/device"
	"github.com/modoterra/idevlog/pkg/filter"
	"github.com/modoterra/idevlog/pkg/logging"
	"github.com/modoterra/idevlog/pkg/providers/filetail"
	"github.com/modoterra/idevlog/pkg/providers/goios"
	"github.com/modoterra/idevlog/pkg/providers/tidevice"
	"github.com/modoterra/idevlog/pkg/transport/uds"
	tuimodel "github.com/modoterra/idevlog/pkg/tui/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	socketPath string
	backend    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "idevlog",
		Short:         "Collect application logs from an attached iOS device",
		Long:          "idevlog waits for an iOS device, tails its system log, keeps the lines that belong to one application and appends them to a local file.",
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultFile, "path to idevlog.yaml")
	pf.StringVar(&g.socketPath, "socket", "", "status socket path")
	pf.StringVar(&g.backend, "backend", "", "device backend: goios or tidevice")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: auto, text, json")

	root.AddCommand(
		newCollectCmd(g),
		newDevicesCmd(g),
		newAppsCmd(g),
		newWaitCmd(g),
		newStatusCmd(g),
		newWatchCmd(g),
		newTailCmd(g),
		newServiceCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers the config file, IDEVLOG_* variables and explicit flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	c, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(c, os.Getenv)

	if g.socketPath != "" {
		c.Socket = g.socketPath
	}
	if g.backend != "" {
		c.Backend = g.backend
	}
	if g.logLevel != "" {
		c.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		c.Log.Format = g.logFormat
	}
	if c.Socket == "" {
		c.Socket = defaultSocket()
	}
	return c, nil
}

func defaultSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "idevlog.sock")
	}
	return filepath.Join(os.TempDir(), "idevlog.sock")
}

func newBackend(c *config.Config, logger *slog.Logger) (core.Backend, error) {
	switch c.Backend {
	case "goios", "":
		return goios.New(logger), nil
	case "tidevice":
		return tidevice.New(c.Tidevice.Binary, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Devices ---

func newDevicesCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := logging.New(c.Log.Level, c.Log.Format)
			backend, err := newBackend(c, logger)
			if err != nil {
				return err
			}

			e := device.NewLocator(backend, logger).Enumerate(cmd.Context())
			if e.Failed() {
				return fmt.Errorf("enumerate devices: %w", e.Err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				devices := e.Devices
				if devices == nil {
					devices = []core.Device{}
				}
				return writeJSON(out, devices)
			}
			if len(e.Devices) == 0 {
				fmt.Fprintln(out, "no devices")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UDID\tSLOT\tCONNECTION")
			for _, d := range e.Devices {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", d.UDID, d.Slot, d.ConnectionType)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// --- Apps ---

func newAppsCmd(g *globalFlags) *cobra.Command {
	var (
		udid   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List user applications installed on the device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := logging.New(c.Log.Level, c.Log.Format)
			backend, err := newBackend(c, logger)
			if err != nil {
				return err
			}

			if udid == "" {
				udid = c.Device.UDID
			}
			if udid == "" {
				var ok bool
				if udid, ok = device.NewLocator(backend, logger).FirstUDID(cmd.Context()); !ok {
					return fmt.Errorf("no device connected")
				}
			}

			apps, err := backend.ListApps(cmd.Context(), udid)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, apps)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BUNDLE ID\tNAME\tVERSION")
			for _, a := range apps {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.BundleID, a.Name, a.Version)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&udid, "udid", "", "device UDID (default: first attached device)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// --- Wait ---

func newWaitCmd(g *globalFlags) *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until a device is connected",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := logging.New(c.Log.Level, c.Log.Format)
			backend, err := newBackend(c, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-retries") {
				c.Device.MaxRetries = maxRetries
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			monitor := device.NewMonitor(backend, device.MonitorOptions{
				ProbeTimeout: c.Device.ProbeTimeout,
				RetryDelay:   c.Device.RetryDelay,
			}, nil, logger)
			if !monitor.AwaitConnection(ctx, c.Device.MaxRetries) {
				return fmt.Errorf("device not connected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connected")
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "probe attempts before giving up (<= 0 waits until interrupted)")
	return cmd
}

// --- Status ---

func dialCollector(socketPath string) (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to collector at %s: %w", socketPath, err)
	}
	return client, nil
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			client, err := dialCollector(c.Socket)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()

			var st uds.StatusResponse
			if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "app\t%s\n", st.App)
			fmt.Fprintf(tw, "backend\t%s\n", st.Backend)
			fmt.Fprintf(tw, "state\t%s\n", st.State)
			fmt.Fprintf(tw, "device\t%s\n", st.UDID)
			fmt.Fprintf(tw, "session\t%d\n", st.Session)
			fmt.Fprintf(tw, "written\t%d\n", st.Written)
			fmt.Fprintf(tw, "matched\t%d\n", st.Matched)
			fmt.Fprintf(tw, "output\t%s\n", st.OutputPath)
			if st.LastStatus != "" {
				fmt.Fprintf(tw, "last\t%s\n", st.LastStatus)
			}
			if st.LastError != "" {
				fmt.Fprintf(tw, "error\t%s\n", st.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// --- Watch ---

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live view of matched lines from a running collector",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("watch needs an interactive terminal; use status instead")
			}
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			if _, err := os.Stat(c.Socket); err != nil {
				return fmt.Errorf("no collector listening on %s", c.Socket)
			}
			p := tea.NewProgram(tuimodel.New(c.Socket), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

// --- Tail ---

func newTailCmd(g *globalFlags) *cobra.Command {
	var (
		keyword   string
		fromStart bool
	)
	cmd := &cobra.Command{
		Use:   "tail [file]",
		Short: "Follow the collected output file",
		Long:  "Follows the output file across rotation. Works without a running collector socket.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			path := c.OutputPath()
			if len(args) > 0 {
				path = args[0]
			}
			logger := logging.New(c.Log.Level, c.Log.Format)

			ctx, cancel := signalContext(logger)
			defer cancel()

			out := cmd.OutOrStdout()
			return filetail.New(path, logger).Follow(ctx, fromStart, func(line string) {
				if filter.Stage2(line, keyword) {
					fmt.Fprintln(out, line)
				}
			})
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "only print lines containing this keyword")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "print existing content first")
	return cmd
}

// --- Service ---

func newServiceCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the idevlog systemd user service",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install, enable and start the user service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := os.Stat(g.configPath); err != nil {
					return fmt.Errorf("config %s: %w (run idevlog config init first)", g.configPath, err)
				}
				if err := service.Install(cmd.Context(), g.configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "service installed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Stop, disable and remove the user service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := service.Uninstall(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "service removed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show service and socket state",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig(g)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), c.Socket))
				return nil
			},
		},
	)
	return cmd
}

// --- Config ---

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage idevlog.yaml",
	}

	var (
		app   string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate idevlog.yaml for this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", g.configPath)
			}
			c, err := presets.Generate(app)
			if err != nil {
				return err
			}
			if err := config.Save(g.configPath, c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s (backend %s, output %s)\n", g.configPath, c.Backend, c.Output.Path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&app, "app", "", "application bundle id to collect")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate idevlog.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configPath
			if len(args) > 0 {
				path = args[0]
			}

			c, err := config.Load(path)
			if err != nil {
				return err
			}

			errs := config.Validate(c)
			if len(errs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (app %s, backend %s)\n", path, c.Filter.App, c.Backend)
				return nil
			}

			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
			}
			return fmt.Errorf("%s: %d error(s)", path, len(errs))
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// --- Version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "idevlog %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		},
	}
}
