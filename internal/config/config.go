package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "IBTOP_"

// Config represents runtime configuration sourced from environment variables.
// The sampling interval is fixed and deliberately not configurable.
type Config struct {
	SysfsRoot        string
	ProcRoot         string
	LogLevel         slog.Level
	ListenAddr       string
	AllowedOrigins   []string
	DefaultInterface string
	EnablePrometheus bool
	EnablePprof      bool
	WS               WebsocketConfig
	Proc             ProcConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// ProcConfig contains settings for the RDMA process scanner.
type ProcConfig struct {
	Enable       bool
	ScanInterval time.Duration
	MaxPIDs      int
	MaxFDsPerPID int
}

// HTTPEnabled reports whether the HTTP exporter should be started.
func (c Config) HTTPEnabled() bool {
	return c.ListenAddr != ""
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		SysfsRoot:      "/sys",
		ProcRoot:       "/proc",
		LogLevel:       slog.LevelInfo,
		AllowedOrigins: []string{"*"},
		WS: WebsocketConfig{
			MaxClients:   64,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Proc: ProcConfig{
			Enable:       true,
			ScanInterval: 5 * time.Second,
			MaxPIDs:      5000,
			MaxFDsPerPID: 256,
		},
	}
}

// Load parses configuration from IBTOP_* environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Default()

	if value, ok := lookup("SYSFS_ROOT"); ok {
		cfg.SysfsRoot = value
	}
	if value, ok := lookup("PROC_ROOT"); ok {
		cfg.ProcRoot = value
	}
	if value, ok := lookup("LOG_LEVEL"); ok {
		level, err := ParseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %sLOG_LEVEL: %w", envPrefix, err)
		}
		cfg.LogLevel = level
	}
	if value, ok := lookup("LISTEN_ADDR"); ok {
		cfg.ListenAddr = value
	}
	if value, ok := lookup("ALLOWED_ORIGINS"); ok {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("%sALLOWED_ORIGINS must not be empty", envPrefix)
		}
		cfg.AllowedOrigins = origins
	}
	if value, ok := lookup("DEFAULT_INTERFACE"); ok {
		cfg.DefaultInterface = value
	}

	var err error
	if cfg.EnablePrometheus, err = lookupBool("ENABLE_PROMETHEUS", cfg.EnablePrometheus); err != nil {
		return Config{}, err
	}
	if cfg.EnablePprof, err = lookupBool("ENABLE_PPROF", cfg.EnablePprof); err != nil {
		return Config{}, err
	}
	if cfg.WS.MaxClients, err = lookupPositiveInt("WS_MAX_CLIENTS", cfg.WS.MaxClients); err != nil {
		return Config{}, err
	}
	if cfg.WS.WriteTimeout, err = lookupPositiveDuration("WS_WRITE_TIMEOUT", cfg.WS.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WS.ReadTimeout, err = lookupPositiveDuration("WS_READ_TIMEOUT", cfg.WS.ReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Proc.Enable, err = lookupBool("PROC_ENABLE", cfg.Proc.Enable); err != nil {
		return Config{}, err
	}
	if cfg.Proc.ScanInterval, err = lookupPositiveDuration("PROC_SCAN_INTERVAL", cfg.Proc.ScanInterval); err != nil {
		return Config{}, err
	}
	if cfg.Proc.MaxPIDs, err = lookupPositiveInt("PROC_MAX_PIDS", cfg.Proc.MaxPIDs); err != nil {
		return Config{}, err
	}
	if cfg.Proc.MaxFDsPerPID, err = lookupPositiveInt("PROC_MAX_FDS_PER_PID", cfg.Proc.MaxFDsPerPID); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func lookup(name string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	return value, value != ""
}

func lookupBool(name string, fallback bool) (bool, error) {
	value, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	return enabled, nil
}

func lookupPositiveInt(name string, fallback int) (int, error) {
	value, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s%s must be > 0", envPrefix, name)
	}
	return n, nil
}

func lookupPositiveDuration(name string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be > 0", envPrefix, name)
	}
	return d, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
