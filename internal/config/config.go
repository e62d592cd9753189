// Package config provides hierarchical configuration loading for nimsuggestd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the nimsuggestd core.
type Config struct {
	Nimsuggest Nimsuggest `yaml:"nimsuggest"`
	Session    Session    `yaml:"session"`
	Router     Router     `yaml:"router"`
	Features   Features   `yaml:"features"`
	Server     Server     `yaml:"server"`
	Events     Events     `yaml:"events"`
	OTEL       OTEL       `yaml:"otel"`
	Logging    Logging    `yaml:"logging"`
}

// Transport modes for talking to the analyzer.
const (
	ModeStdin = "stdin" // request/response over the process pipes
	ModePort  = "port"  // request/response over a local TCP socket (--autobind)
)

// Nimsuggest holds analyzer process configuration.
type Nimsuggest struct {
	Path                string        `yaml:"path"`                  // executable; empty = look up "nimsuggest" on PATH
	Mode                string        `yaml:"mode"`                  // "stdin" | "port" (default: "stdin")
	Args                []string      `yaml:"args"`                  // extra arguments placed before the project root
	ReadyTimeout        time.Duration `yaml:"ready_timeout"`         // max wait for the prompt/handshake (default: 30s)
	StopTimeout         time.Duration `yaml:"stop_timeout"`          // grace period after "quit" before kill (default: 3s)
	MaxConcurrentStarts int           `yaml:"max_concurrent_starts"` // analyzers compiling their project at once (default: 2)
}

// Session holds per-project session configuration.
type Session struct {
	QueryTimeout           time.Duration `yaml:"query_timeout"`            // bound on a single request (default: 10s)
	MaxConsecutiveTimeouts int           `yaml:"max_consecutive_timeouts"` // timeouts in a row before respawn (default: 3)
	EagerStart             bool          `yaml:"eager_start"`              // spawn on resolve instead of first query
	ScratchDir             string        `yaml:"scratch_dir"`              // dirty buffer snapshots; empty = os.TempDir()
}

// Router holds project root discovery configuration.
type Router struct {
	Markers       []string      `yaml:"markers"`         // doublestar patterns matched against directory entries
	Ignore        []string      `yaml:"ignore"`          // doublestar patterns for files that never get a session
	WatchMarkers  bool          `yaml:"watch_markers"`   // invalidate root cache on marker changes
	CacheTTL      time.Duration `yaml:"cache_ttl"`       // file -> root cache entry lifetime
	CacheMaxBytes int64         `yaml:"cache_max_bytes"` // ristretto MaxCost
}

// Features holds user-facing toggles.
type Features struct {
	AskOnMultipleResults bool `yaml:"ask_on_multiple_results"`
	Debug                bool `yaml:"debug"`   // debug log level and raw protocol logging
	Profile              bool `yaml:"profile"` // mount pprof handlers on the HTTP server
}

// Server holds HTTP server configuration.
type Server struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Events holds session event publishing configuration.
type Events struct {
	NATSURL       string `yaml:"nats_url"` // empty disables NATS publishing
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC endpoint; empty disables export
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible default values for a local editor daemon.
func Defaults() Config {
	return Config{
		Nimsuggest: Nimsuggest{
			Mode:                ModeStdin,
			ReadyTimeout:        30 * time.Second,
			StopTimeout:         3 * time.Second,
			MaxConcurrentStarts: 2,
		},
		Session: Session{
			QueryTimeout:           10 * time.Second,
			MaxConsecutiveTimeouts: 3,
		},
		Router: Router{
			Markers:       []string{"*.nimble"},
			Ignore:        []string{"**/nimcache/**"},
			WatchMarkers:  true,
			CacheTTL:      10 * time.Minute,
			CacheMaxBytes: 1 << 20,
		},
		Features: Features{
			AskOnMultipleResults: true,
		},
		Server: Server{
			Addr:       "127.0.0.1:7733",
			CORSOrigin: "*",
		},
		Events: Events{
			SubjectPrefix: "nimsuggestd",
		},
		OTEL: OTEL{
			ServiceName: "nimsuggestd",
			Insecure:    true,
		},
		Logging: Logging{
			Level:   "info",
			Service: "nimsuggestd",
		},
	}
}
