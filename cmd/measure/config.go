package measure

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

const envPrefix = "LINKSPEED_"

type ServerConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name,omitempty"`
}

// ConfigFile is ~/.config/linkspeed/config.yaml.
type ConfigFile struct {
	DefaultServer string                  `yaml:"default_server,omitempty"`
	Servers       map[string]ServerConfig `yaml:"servers,omitempty"`

	ServerURL string `yaml:"server_url,omitempty"`
	Samples   int    `yaml:"samples,omitempty"`
	BlobSize  string `yaml:"blob_size,omitempty"`
	Network   string `yaml:"network,omitempty"`
	Proxy     string `yaml:"proxy,omitempty"`
	HTTP2     bool   `yaml:"http2,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
	JSON      bool   `yaml:"json,omitempty"`
	NoColor   bool   `yaml:"no_color,omitempty"`
	Verbose   bool   `yaml:"verbose,omitempty"`
}

// Options is the fully merged command configuration.
type Options struct {
	ServerURL   string
	PingURL     string
	DownloadURL string
	UploadURL   string
	Samples     int
	BlobSize    int64
	Network     string
	Proxy       string
	HTTP2       bool
	Timeout     time.Duration
	JSON        bool
	Save        bool
	NoColor     bool
	Verbose     bool
}

func defaultOptions() *Options {
	return &Options{
		Samples:  linkspeed.DefaultSamples,
		BlobSize: linkspeed.DefaultBlobSize,
		Network:  "tcp",
		Timeout:  2 * time.Minute,
	}
}

func getConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "linkspeed", "config.yaml")
}

// loadConfigFile returns nil, nil when no config file exists.
func loadConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	var cf ConfigFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateConfigFile(&cf); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return &cf, nil
}

func validateConfigFile(cf *ConfigFile) error {
	if cf.Samples < 0 {
		return fmt.Errorf("invalid samples: %d", cf.Samples)
	}
	if cf.BlobSize != "" {
		if _, err := humanize.ParseBytes(cf.BlobSize); err != nil {
			return fmt.Errorf("invalid blob_size %q: %w", cf.BlobSize, err)
		}
	}
	if cf.Network != "" {
		if err := validateNetwork(cf.Network); err != nil {
			return err
		}
	}
	if cf.Timeout != "" {
		if _, err := time.ParseDuration(cf.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", cf.Timeout, err)
		}
	}
	if cf.DefaultServer != "" {
		if _, ok := cf.Servers[cf.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not defined in servers", cf.DefaultServer)
		}
	}
	for alias, s := range cf.Servers {
		if s.URL == "" {
			return fmt.Errorf("server %q has no url", alias)
		}
	}
	return nil
}

// resolveServer maps an alias to its URL. Anything that is not a known
// alias is taken as a URL.
func resolveServer(cf *ConfigFile, server string) string {
	if cf != nil && cf.Servers != nil {
		if s, ok := cf.Servers[server]; ok {
			return s.URL
		}
	}
	return server
}

// mergeConfig layers defaults, the config file, LINKSPEED_* variables and
// explicitly set flags. Invalid environment values are reported to warn
// and ignored.
func mergeConfig(flags *Options, flagServer string, cf *ConfigFile, changed func(string) bool, warn io.Writer) *Options {
	out := defaultOptions()

	if cf != nil {
		if cf.DefaultServer != "" {
			out.ServerURL = resolveServer(cf, cf.DefaultServer)
		} else if cf.ServerURL != "" {
			out.ServerURL = cf.ServerURL
		}
		if cf.Samples > 0 {
			out.Samples = cf.Samples
		}
		if cf.BlobSize != "" {
			if n, err := humanize.ParseBytes(cf.BlobSize); err == nil {
				out.BlobSize = int64(n)
			}
		}
		if cf.Network != "" {
			out.Network = cf.Network
		}
		out.Proxy = cf.Proxy
		out.HTTP2 = cf.HTTP2
		if cf.Timeout != "" {
			if d, err := time.ParseDuration(cf.Timeout); err == nil {
				out.Timeout = d
			}
		}
		out.JSON = cf.JSON
		out.NoColor = cf.NoColor
		out.Verbose = cf.Verbose
	}

	if v := os.Getenv(envPrefix + "SERVER_URL"); v != "" {
		out.ServerURL = resolveServer(cf, v)
	}
	if v := os.Getenv(envPrefix + "SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.Samples = n
		} else {
			fmt.Fprintf(warn, "linkspeed measure: warning: invalid %sSAMPLES value '%s' (must be integer), ignoring\n", envPrefix, v)
		}
	}
	if v := os.Getenv(envPrefix + "BLOB_SIZE"); v != "" {
		if n, err := humanize.ParseBytes(v); err == nil {
			out.BlobSize = int64(n)
		} else {
			fmt.Fprintf(warn, "linkspeed measure: warning: invalid %sBLOB_SIZE value '%s', ignoring\n", envPrefix, v)
		}
	}
	if v := os.Getenv(envPrefix + "NETWORK"); v != "" {
		out.Network = v
	}
	if v := os.Getenv(envPrefix + "PROXY"); v != "" {
		out.Proxy = v
	}
	if os.Getenv("NO_COLOR") != "" {
		out.NoColor = true
	}

	if changed("server") && flagServer != "" {
		out.ServerURL = resolveServer(cf, flagServer)
	}
	if changed("ping-url") {
		out.PingURL = flags.PingURL
	}
	if changed("download-url") {
		out.DownloadURL = flags.DownloadURL
	}
	if changed("upload-url") {
		out.UploadURL = flags.UploadURL
	}
	if changed("samples") {
		out.Samples = flags.Samples
	}
	if changed("blob-size") {
		out.BlobSize = flags.BlobSize
	}
	if changed("network") {
		out.Network = flags.Network
	}
	if changed("proxy") {
		out.Proxy = flags.Proxy
	}
	if changed("http2") {
		out.HTTP2 = flags.HTTP2
	}
	if changed("timeout") {
		out.Timeout = flags.Timeout
	}
	if changed("json") {
		out.JSON = flags.JSON
	}
	if changed("no-color") {
		out.NoColor = flags.NoColor
	}
	if changed("verbose") {
		out.Verbose = flags.Verbose
	}
	out.Save = flags.Save
	return out
}

func validateNetwork(network string) error {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return nil
	default:
		return fmt.Errorf("invalid network: %s (must be tcp, tcp4, or tcp6)", network)
	}
}

func validateOptions(o *Options) error {
	if o.Samples < 1 {
		return fmt.Errorf("invalid samples: %d (must be >= 1)", o.Samples)
	}
	if o.BlobSize < 0 {
		return fmt.Errorf("invalid blob size: %d", o.BlobSize)
	}
	if err := validateNetwork(o.Network); err != nil {
		return err
	}
	if o.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %s", o.Timeout)
	}
	if o.Save && o.ServerURL == "" {
		return fmt.Errorf("--save needs a linkspeed server (--server)")
	}
	return nil
}

// linkConfig translates the options into a core measurement config.
func (o *Options) linkConfig(client linkspeed.Doer, observer linkspeed.Observer) linkspeed.Config {
	cfg := linkspeed.DefaultConfig().
		WithSamples(o.Samples).
		WithBlobSize(o.BlobSize).
		WithClient(client).
		WithObserver(observer)
	if o.ServerURL != "" {
		cfg = cfg.WithBaseURL(o.ServerURL)
	}
	if o.PingURL != "" {
		cfg = cfg.WithPingURL(o.PingURL)
	}
	if o.DownloadURL != "" {
		cfg = cfg.WithDownloadURL(o.DownloadURL)
	}
	if o.UploadURL != "" {
		cfg = cfg.WithUploadURL(o.UploadURL)
	}
	return cfg
}
