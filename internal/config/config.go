package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "LINKSPEED_"

type Config struct {
	Port        string `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	ServerName  string `yaml:"server_name"`

	MaxBlobSize            int64         `yaml:"max_blob_size"`
	MaxUploadBytes         int64         `yaml:"max_upload_bytes"`
	MaxConcurrentTransfers int           `yaml:"max_concurrent_transfers"`
	TransferTimeout        time.Duration `yaml:"transfer_timeout"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	RateLimitPerIP  int `yaml:"rate_limit_per_ip"`
	GlobalRateLimit int `yaml:"global_rate_limit"`

	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
	AllowedOrigins    []string `yaml:"allowed_origins"`

	DataDir          string        `yaml:"data_dir"`
	MaxStoredResults int           `yaml:"max_stored_results"`
	ResultRetention  time.Duration `yaml:"result_retention"`

	LiveFeedPingInterval time.Duration `yaml:"live_feed_ping_interval"`

	PprofEnabled      bool          `yaml:"pprof_enabled"`
	PprofAddress      string        `yaml:"pprof_address"`
	PerfStatsInterval time.Duration `yaml:"perf_stats_interval"`

	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "linkspeed"
	}
	return &Config{
		Port:                   "8080",
		BindAddress:            "0.0.0.0",
		ServerName:             hostname,
		MaxBlobSize:            64 * 1024 * 1024,
		MaxUploadBytes:         64 * 1024 * 1024,
		MaxConcurrentTransfers: 64,
		TransferTimeout:        60 * time.Second,
		ReadHeaderTimeout:      15 * time.Second, // slowloris
		IdleTimeout:            60 * time.Second,
		ShutdownTimeout:        10 * time.Second,
		RateLimitPerIP:         60,
		GlobalRateLimit:        1000,
		AllowedOrigins:         []string{"*"},
		DataDir:                "./data",
		MaxStoredResults:       10000,
		ResultRetention:        90 * 24 * time.Hour,
		LiveFeedPingInterval:   30 * time.Second,
		PprofAddress:           "127.0.0.1:6060",
		LogLevel:               "info",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if port := getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid %sPORT %q: must be a number", envPrefix, port)
		}
		c.Port = port
	}
	if addr := getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}
	if name := getenv("SERVER_NAME"); name != "" {
		c.ServerName = name
	}

	if err := envInt64("MAX_BLOB_SIZE", &c.MaxBlobSize); err != nil {
		return err
	}
	if err := envInt64("MAX_UPLOAD_BYTES", &c.MaxUploadBytes); err != nil {
		return err
	}
	if err := envInt("MAX_CONCURRENT_TRANSFERS", &c.MaxConcurrentTransfers); err != nil {
		return err
	}
	if err := envDuration("TRANSFER_TIMEOUT", &c.TransferTimeout); err != nil {
		return err
	}
	if err := envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout); err != nil {
		return err
	}

	if err := envInt("RATE_LIMIT_PER_IP", &c.RateLimitPerIP); err != nil {
		return err
	}
	if err := envInt("GLOBAL_RATE_LIMIT", &c.GlobalRateLimit); err != nil {
		return err
	}

	if trust := getenv("TRUST_PROXY_HEADERS"); trust == "true" || trust == "1" {
		c.TrustProxyHeaders = true
	}
	if cidrs := getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitList(cidrs)
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	if dataDir := getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if err := envInt("MAX_STORED_RESULTS", &c.MaxStoredResults); err != nil {
		return err
	}
	if err := envDuration("RESULT_RETENTION", &c.ResultRetention); err != nil {
		return err
	}
	if err := envDuration("LIVE_FEED_PING_INTERVAL", &c.LiveFeedPingInterval); err != nil {
		return err
	}
	if enabled := getenv("PPROF_ENABLED"); enabled == "true" || enabled == "1" {
		c.PprofEnabled = true
	}
	if addr := getenv("PPROF_ADDR"); addr != "" {
		c.PprofAddress = addr
	}
	if err := envDuration("PERF_STATS_INTERVAL", &c.PerfStatsInterval); err != nil {
		return err
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.MaxBlobSize <= 0 {
		return fmt.Errorf("max blob size must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be > 0")
	}
	if c.MaxConcurrentTransfers <= 0 {
		return fmt.Errorf("max concurrent transfers must be > 0")
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("transfer timeout must be > 0")
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	if c.GlobalRateLimit <= 0 {
		return fmt.Errorf("global rate limit must be > 0")
	}
	if c.GlobalRateLimit < c.RateLimitPerIP {
		return fmt.Errorf("global rate limit must be >= rate limit per IP")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.MaxStoredResults <= 0 {
		return fmt.Errorf("max stored results must be > 0")
	}
	if c.LiveFeedPingInterval <= 0 {
		return fmt.Errorf("live feed ping interval must be > 0")
	}
	if c.PprofEnabled && c.PprofAddress == "" {
		return fmt.Errorf("pprof address cannot be empty when enabled")
	}
	if c.TrustProxyHeaders {
		for _, entry := range c.TrustedProxyCIDRs {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("invalid trusted proxy CIDR: %s", entry)
			}
		}
	}
	return nil
}

func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, c.Port)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string, dst *int) error {
	raw := getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fmt.Errorf("invalid %s%s %q: must be a positive integer", envPrefix, key, raw)
	}
	*dst = v
	return nil
}

func envInt64(key string, dst *int64) error {
	raw := getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("invalid %s%s %q: must be a positive integer", envPrefix, key, raw)
	}
	*dst = v
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s%s %q: must be a positive duration (e.g. 30s)", envPrefix, key, raw)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	entries := strings.Split(raw, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if value := strings.TrimSpace(entry); value != "" {
			out = append(out, value)
		}
	}
	return out
}
