package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "nimsuggestd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if cfg.Features.Debug {
		cfg.Logging.Level = "debug"
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	// Analyzer
	setString(&cfg.Nimsuggest.Path, "NIMSUGGESTD_NIMSUGGEST_PATH")
	setString(&cfg.Nimsuggest.Mode, "NIMSUGGESTD_NIMSUGGEST_MODE")
	setList(&cfg.Nimsuggest.Args, "NIMSUGGESTD_NIMSUGGEST_ARGS")
	setDuration(&cfg.Nimsuggest.ReadyTimeout, "NIMSUGGESTD_READY_TIMEOUT")
	setDuration(&cfg.Nimsuggest.StopTimeout, "NIMSUGGESTD_STOP_TIMEOUT")
	setInt(&cfg.Nimsuggest.MaxConcurrentStarts, "NIMSUGGESTD_MAX_CONCURRENT_STARTS")

	// Sessions
	setDuration(&cfg.Session.QueryTimeout, "NIMSUGGESTD_QUERY_TIMEOUT")
	setInt(&cfg.Session.MaxConsecutiveTimeouts, "NIMSUGGESTD_MAX_CONSECUTIVE_TIMEOUTS")
	setBool(&cfg.Session.EagerStart, "NIMSUGGESTD_EAGER_START")
	setString(&cfg.Session.ScratchDir, "NIMSUGGESTD_SCRATCH_DIR")

	// Router
	setList(&cfg.Router.Markers, "NIMSUGGESTD_ROUTER_MARKERS")
	setList(&cfg.Router.Ignore, "NIMSUGGESTD_ROUTER_IGNORE")
	setBool(&cfg.Router.WatchMarkers, "NIMSUGGESTD_ROUTER_WATCH")
	setDuration(&cfg.Router.CacheTTL, "NIMSUGGESTD_ROUTER_CACHE_TTL")
	setInt64(&cfg.Router.CacheMaxBytes, "NIMSUGGESTD_ROUTER_CACHE_MAX_BYTES")

	// Features
	setBool(&cfg.Features.AskOnMultipleResults, "NIMSUGGESTD_ASK_ON_MULTIPLE_RESULTS")
	setBool(&cfg.Features.Debug, "NIMSUGGESTD_DEBUG")
	setBool(&cfg.Features.Profile, "NIMSUGGESTD_PROFILE")

	setString(&cfg.Server.Addr, "NIMSUGGESTD_ADDR")
	setString(&cfg.Server.CORSOrigin, "NIMSUGGESTD_CORS_ORIGIN")
	setString(&cfg.Events.NATSURL, "NATS_URL")
	setString(&cfg.Events.SubjectPrefix, "NIMSUGGESTD_EVENTS_PREFIX")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "NIMSUGGESTD_OTEL_INSECURE")
	setString(&cfg.Logging.Level, "NIMSUGGESTD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "NIMSUGGESTD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "NIMSUGGESTD_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Nimsuggest.Mode != ModeStdin && cfg.Nimsuggest.Mode != ModePort {
		return fmt.Errorf("nimsuggest.mode must be %q or %q, got %q", ModeStdin, ModePort, cfg.Nimsuggest.Mode)
	}
	if cfg.Nimsuggest.ReadyTimeout <= 0 {
		return errors.New("nimsuggest.ready_timeout must be > 0")
	}
	if cfg.Nimsuggest.MaxConcurrentStarts < 1 {
		return errors.New("nimsuggest.max_concurrent_starts must be >= 1")
	}
	if cfg.Session.QueryTimeout <= 0 {
		return errors.New("session.query_timeout must be > 0")
	}
	if cfg.Session.MaxConsecutiveTimeouts < 1 {
		return errors.New("session.max_consecutive_timeouts must be >= 1")
	}
	if len(cfg.Router.Markers) == 0 {
		return errors.New("router.markers must not be empty")
	}
	if cfg.Router.CacheMaxBytes < 1 {
		return errors.New("router.cache_max_bytes must be >= 1")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma separated value.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
