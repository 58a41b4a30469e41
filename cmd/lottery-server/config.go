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

type appConfig struct {
	listenAddr      string
	backlog         int
	expectedClients int
	storePath       string
	winningNumber   int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":20000", "TCP listen address")
	backlog := flag.Int("backlog", 1024, "TCP listen backlog")
	expectedClients := flag.Int("expected-clients", 1, "Number of agency clients expected before the draw runs (K)")
	storePath := flag.String("store-path", "bets.log", "Path to the durable bet store")
	winningNumber := flag.Int("winning-number", 0, "The number that decides a bet is a winner")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default lottery-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.backlog = *backlog
	cfg.expectedClients = *expectedClients
	cfg.storePath = *storePath
	cfg.winningNumber = *winningNumber
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open the store or listener -- only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
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
	if c.backlog <= 0 {
		return fmt.Errorf("backlog must be > 0 (got %d)", c.backlog)
	}
	if c.expectedClients <= 0 {
		return fmt.Errorf("expected-clients must be > 0 (got %d)", c.expectedClients)
	}
	if c.storePath == "" {
		return errors.New("store-path must not be empty")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps LOTTERY_SERVER_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins over
// env). Boolean & numeric parsing is lax: empty values ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["backlog"]; !ok {
		if v, ok := get("LOTTERY_SERVER_BACKLOG"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.backlog = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_BACKLOG: %w", err)
			}
		}
	}
	if _, ok := set["expected-clients"]; !ok {
		if v, ok := get("LOTTERY_SERVER_EXPECTED_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.expectedClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_EXPECTED_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["store-path"]; !ok {
		if v, ok := get("LOTTERY_SERVER_STORE_PATH"); ok && v != "" {
			c.storePath = v
		}
	}
	if _, ok := set["winning-number"]; !ok {
		if v, ok := get("LOTTERY_SERVER_WINNING_NUMBER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.winningNumber = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_WINNING_NUMBER: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("LOTTERY_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("LOTTERY_SERVER_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("LOTTERY_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("LOTTERY_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("LOTTERY_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LOTTERY_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
