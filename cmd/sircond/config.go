package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds the daemon's command-line and environment-derived
// configuration. serialDev is the one positional argument spec.md §6
// requires; everything else is an ambient flag/env knob the teacher's
// config layer carries regardless of what the radio protocol itself
// specifies.
type appConfig struct {
	serialDev       string
	baud            int
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	busBuffer       int
	busPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	pidFile         string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	baud := flag.Int("baud", 57600, "Serial operating baud rate (post-handshake)")
	listen := flag.String("listen", ":6114", "TCP listen address")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	busBuf := flag.Int("bus-buffer", 512, "Per-client event bus buffer (lines)")
	busPolicy := flag.String("bus-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 10*time.Second, "TTS-100 version probe and authentication timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection idle read deadline (validated and passed to the TCP server, which does not set it on connections)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the control port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default sircond-<hostname>)")
	pidFile := flag.String("pid-file", "", "PID file path; empty disables")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if !*showVersion {
		if flag.NArg() != 1 {
			fmt.Println("usage: sircond [flags] <serial-device>")
			return nil, *showVersion
		}
		cfg.serialDev = flag.Arg(0)
	}
	cfg.baud = *baud
	cfg.listenAddr = *listen
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.busBuffer = *busBuf
	cfg.busPolicy = *busPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.pidFile = *pidFile

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if *showVersion {
		return cfg, true
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed
// configuration. It does not open devices or listeners, only checks
// values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.serialDev == "" {
		return errors.New("serial device path is required")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.busPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid bus-policy: %s", c.busPolicy)
	}
	if c.busBuffer <= 0 {
		return fmt.Errorf("bus-buffer must be > 0 (got %d)", c.busBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps SIRCOND_* environment variables onto config
// fields unless the corresponding flag was explicitly set on the command
// line (flag wins). Boolean and numeric parsing is lax: empty values are
// ignored; durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["baud"]; !ok {
		if v, ok := get("SIRCOND_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("SIRCOND_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("SIRCOND_SERIAL_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_SERIAL_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SIRCOND_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SIRCOND_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SIRCOND_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["bus-buffer"]; !ok {
		if v, ok := get("SIRCOND_BUS_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.busBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_BUS_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["bus-policy"]; !ok {
		if v, ok := get("SIRCOND_BUS_POLICY"); ok && v != "" {
			c.busPolicy = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("SIRCOND_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["handshake-timeout"]; !ok {
		if v, ok := get("SIRCOND_HANDSHAKE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.handshakeTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_HANDSHAKE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("SIRCOND_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SIRCOND_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SIRCOND_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["pid-file"]; !ok {
		if v, ok := get("SIRCOND_PID_FILE"); ok {
			c.pidFile = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SIRCOND_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIRCOND_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
