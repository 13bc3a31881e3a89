package core

// LogLine is a matched log line published to live viewers.
type LogLine struct {
	UDID     string `json:"udid"`
	TsUnixMs int64  `json:"ts_unix_ms"`
	Line     string `json:"line"`
}
