package config

import (
	"strconv"
	"time"
)

// ApplyEnv overrides fields from IDEVLOG_* variables. Unparseable values
// leave the field unchanged.
func ApplyEnv(c *Config, lookup func(string) string) {
	c.Backend = getenv(lookup, "IDEVLOG_BACKEND", c.Backend)
	c.Tidevice.Binary = getenv(lookup, "IDEVLOG_TIDEVICE_BINARY", c.Tidevice.Binary)
	c.Device.UDID = getenv(lookup, "IDEVLOG_UDID", c.Device.UDID)
	c.Device.MaxRetries = getenvInt(lookup, "IDEVLOG_MAX_RETRIES", c.Device.MaxRetries)
	c.Device.ProbeTimeout = getenvDuration(lookup, "IDEVLOG_PROBE_TIMEOUT", c.Device.ProbeTimeout)
	c.Filter.App = getenv(lookup, "IDEVLOG_APP", c.Filter.App)
	c.Filter.Keyword = getenv(lookup, "IDEVLOG_KEYWORD", c.Filter.Keyword)
	c.Filter.OutputKeyword = getenv(lookup, "IDEVLOG_OUTPUT_KEYWORD", c.Filter.OutputKeyword)
	c.Output.Path = getenv(lookup, "IDEVLOG_OUTPUT", c.Output.Path)
	c.Pipeline.PrintMatches = getenvBool(lookup, "IDEVLOG_PRINT_MATCHES", c.Pipeline.PrintMatches)
	c.Socket = getenv(lookup, "IDEVLOG_SOCKET", c.Socket)
	c.MetricsAddr = getenv(lookup, "IDEVLOG_METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = getenv(lookup, "IDEVLOG_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv(lookup, "IDEVLOG_LOG_FORMAT", c.Log.Format)
}

func getenv(lookup func(string) string, key, fallback string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(lookup func(string) string, key string, fallback int) int {
	n, err := strconv.Atoi(lookup(key))
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(lookup func(string) string, key string, fallback bool) bool {
	b, err := strconv.ParseBool(lookup(key))
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(lookup func(string) string, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(lookup(key))
	if err != nil {
		return fallback
	}
	return d
}
