package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/modoterra/idevlog/internal/buildinfo"
	"github.com/modoterra/idevlog/pkg/config"
	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/daemon"
	"github.com/modoterra/idevlog/pkg/device"
	"github.com/modoterra/idevlog/pkg/logging"
	"github.com/modoterra/idevlog/pkg/metrics"
	"github.com/modoterra/idevlog/pkg/pipeline"
)

const devicePollInterval = 5 * time.Second

type collectFlags struct {
	app           string
	keyword       string
	outputKeyword string
	output        string
	udid          string
	maxRetries    int
	restart       string
	metricsAddr   string
	printMatches  bool
	noSocket      bool
}

func newCollectCmd(g *globalFlags) *cobra.Command {
	f := &collectFlags{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect application logs from the attached device",
		Long: `Waits for a device, streams its system log, keeps lines containing the
application id (and keyword, when set) and appends them to the output file.
Lines also containing the output keyword are echoed to the log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(g)
			if err != nil {
				return err
			}
			f.apply(cmd, c)
			if errs := config.Validate(c); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
				}
				return fmt.Errorf("invalid configuration: %d error(s)", len(errs))
			}

			logger := logging.Init(c.Log.Level, c.Log.Format)
			ctx, cancel := signalContext(logger)
			defer cancel()

			res := runCollect(ctx, c, !f.noSocket, logger)
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			if res.Status.Failed() {
				return fmt.Errorf("collection ended: %s", res.Status)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.app, "app", "", "application bundle id to collect")
	fl.StringVar(&f.keyword, "keyword", "", "additional keyword a line must contain to be stored")
	fl.StringVar(&f.outputKeyword, "output-keyword", "", "keyword selecting stored lines to echo")
	fl.StringVar(&f.output, "output", "", "output file path (supports ${app} and ${home})")
	fl.StringVar(&f.udid, "udid", "", "device UDID (default: first attached device)")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "probe attempts before giving up (<= 0 waits until interrupted)")
	fl.StringVar(&f.restart, "restart", "", "session restart policy: always, on-failure, never")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.BoolVar(&f.printMatches, "print-matches", true, "echo stored lines matching the output keyword")
	fl.BoolVar(&f.noSocket, "no-socket", false, "do not serve the status socket")
	return cmd
}

// apply copies explicitly set flags over the configuration.
func (f *collectFlags) apply(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("app") {
		c.Filter.App = f.app
	}
	if changed("keyword") {
		c.Filter.Keyword = f.keyword
	}
	if changed("output-keyword") {
		c.Filter.OutputKeyword = f.outputKeyword
	}
	if changed("output") {
		c.Output.Path = f.output
	}
	if changed("udid") {
		c.Device.UDID = f.udid
	}
	if changed("max-retries") {
		c.Device.MaxRetries = f.maxRetries
	}
	if changed("restart") {
		c.Session.Restart = f.restart
	}
	if changed("metrics-addr") {
		c.MetricsAddr = f.metricsAddr
	}
	if changed("print-matches") {
		c.Pipeline.PrintMatches = f.printMatches
	}
}

// runCollect wires the pipeline, the status server and the supervisor, and
// blocks until supervision ends.
func runCollect(ctx context.Context, c *config.Config, serveSocket bool, logger *slog.Logger) pipeline.Result {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if c.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, c.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	backend, err := newBackend(c, logger)
	if err != nil {
		return pipeline.Result{Status: pipeline.StatusConnectionFailed, Err: err}
	}
	monitor := device.NewMonitor(backend, device.MonitorOptions{
		ProbeTimeout: c.Device.ProbeTimeout,
		RetryDelay:   c.Device.RetryDelay,
	}, m, logger)
	locator := device.NewLocator(backend, logger)

	var d *daemon.Daemon
	outputPath := c.OutputPath()
	orch := pipeline.NewOrchestrator(monitor, locator, backend, pipeline.Options{
		MaxRetries:      c.Device.MaxRetries,
		OutputPath:      outputPath,
		QueueSize:       c.Pipeline.QueueSize,
		DequeueWait:     c.Pipeline.DequeueWait,
		JoinTimeout:     c.Pipeline.JoinTimeout,
		PrintMatches:    c.Pipeline.PrintMatches,
		MaxSize:         c.Output.MaxSize,
		MaxBackups:      c.Output.MaxBackups,
		CompressRotated: c.Output.CompressRotated,
		Keyword:         c.Filter.Keyword,
		OnMatch: func(l core.LogLine) {
			if d != nil {
				d.PublishLine(l)
			}
		},
	}, m, logger)

	if serveSocket {
		d = daemon.New(c.Socket, daemon.Info{
			Version:    buildinfo.Version,
			Backend:    backend.Name(),
			App:        c.Filter.App,
			OutputPath: outputPath,
		}, orch, logger)
		go func() {
			if err := d.Run(ctx); err != nil {
				logger.Error("status server", "err", err)
			}
		}()
		defer d.Shutdown()
		go daemon.NewPollLoop(d, locator, devicePollInterval, logger).Run(ctx)
	}

	sup := daemon.NewSupervisor(func(ctx context.Context, session int) pipeline.Result {
		if d != nil {
			d.SessionStarted(session)
		}
		return orch.Collect(ctx, c.Device.UDID, c.Filter.App, c.Filter.OutputKeyword)
	}, daemon.RestartPolicy(c.Session.Restart), c.Session.MaxRestarts, logger)
	sup.OnResult(func(session int, res pipeline.Result) {
		if d != nil {
			d.SessionEnded(session, res)
		}
		daemon.NotifyStatus(fmt.Sprintf("session %d: %s", session, res), logger)
	})

	logger.Info("starting idevlog", "version", buildinfo.Version, "backend", backend.Name(),
		"app", c.Filter.App, "output", outputPath)
	daemon.NotifyReady(logger)
	res := sup.Run(ctx)
	daemon.NotifyStopping(logger)
	return res
}
