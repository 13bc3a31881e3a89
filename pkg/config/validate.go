package config

import "fmt"

// Validate checks the configuration for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	switch c.Backend {
	case "goios", "tidevice":
	case "":
		errs = append(errs, fmt.Errorf("backend is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.Filter.App == "" {
		errs = append(errs, fmt.Errorf("filter.app is required"))
	}
	if c.Output.Path == "" {
		errs = append(errs, fmt.Errorf("output.path is required"))
	}
	if c.Output.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("output.max_size must not be negative"))
	}
	if c.Output.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("output.max_backups must not be negative"))
	}

	if c.Device.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("device.probe_timeout must be positive"))
	}
	if c.Device.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("device.retry_delay must not be negative"))
	}

	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.DequeueWait <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.dequeue_wait must be positive"))
	}
	if c.Pipeline.JoinTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.join_timeout must be positive"))
	}

	switch c.Session.Restart {
	case "", "always", "on-failure", "never":
	default:
		errs = append(errs, fmt.Errorf("session.restart must be always, on-failure, or never; got %q", c.Session.Restart))
	}
	if c.Session.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("session.max_restarts must not be negative"))
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errs
}
