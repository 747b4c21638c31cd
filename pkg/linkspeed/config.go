package linkspeed

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
)

// Defaults used by DefaultConfig.
const (
	DefaultSamples    = 5
	DefaultBlobSize   = int64(4 * 1024 * 1024)
	DefaultServiceURL = "https://linkspeed.voror.workers.dev"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient Doer = &http.Client{}

// Target is either a fixed URL (Literal) or a URL computed from the
// configuration (Resolver). No other implementations exist.
type Target interface {
	resolve(cfg Config) string
}

// Literal is a URL used as-is.
type Literal string

func (l Literal) resolve(Config) string { return string(l) }

// Resolver computes a URL from the full configuration at probe time.
type Resolver func(cfg Config) string

func (r Resolver) resolve(cfg Config) string {
	if r == nil {
		return ""
	}
	return r(cfg)
}

// Resolve turns a target into a concrete URL. A nil target resolves to "".
func Resolve(t Target, cfg Config) string {
	if t == nil {
		return ""
	}
	return t.resolve(cfg)
}

// BlobURL returns a resolver for base + "/blob/{BlobSize}".
func BlobURL(base string) Resolver {
	base = strings.TrimRight(base, "/")
	return func(cfg Config) string {
		return base + "/blob/" + strconv.FormatInt(cfg.BlobSize, 10)
	}
}

// Phase names the probe a Progress update belongs to.
type Phase string

const (
	PhasePing     Phase = "ping"
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
)

// Progress is reported after every completed sample.
type Progress struct {
	Phase   Phase
	Sample  int
	Count   int
	Elapsed time.Duration
}

// Observer receives progress updates on the measuring goroutine.
type Observer func(Progress)

// Config is a value type: every With* method returns a modified copy and
// never touches the receiver.
type Config struct {
	Samples     int
	PingURL     Target
	DownloadURL Target
	UploadURL   Target
	BlobSize    int64

	// Client defaults to a shared http.Client without a fixed timeout.
	Client   Doer
	Observer Observer
}

// DefaultConfig returns a fresh copy of the defaults on every call.
func DefaultConfig() Config {
	return Config{
		Samples:     DefaultSamples,
		PingURL:     Literal(DefaultServiceURL + "/empty"),
		DownloadURL: BlobURL(DefaultServiceURL),
		UploadURL:   Literal(DefaultServiceURL + "/upload"),
		BlobSize:    DefaultBlobSize,
	}
}

// WithSamples sets the number of samples per phase.
func (c Config) WithSamples(n int) Config {
	c.Samples = n
	return c
}

// WithPingURL sets a fixed ping URL.
func (c Config) WithPingURL(url string) Config {
	c.PingURL = Literal(url)
	return c
}

// WithDownloadURL sets a fixed download URL.
func (c Config) WithDownloadURL(url string) Config {
	c.DownloadURL = Literal(url)
	return c
}

// WithDownloadResolver computes the download URL from the config at probe time.
func (c Config) WithDownloadResolver(fn func(Config) string) Config {
	c.DownloadURL = Resolver(fn)
	return c
}

// WithUploadURL sets a fixed upload URL.
func (c Config) WithUploadURL(url string) Config {
	c.UploadURL = Literal(url)
	return c
}

// WithBlobSize sets the download and upload payload size in bytes.
func (c Config) WithBlobSize(size int64) Config {
	c.BlobSize = size
	return c
}

// WithClient sets the HTTP client used for every probe.
func (c Config) WithClient(client Doer) Config {
	c.Client = client
	return c
}

// WithObserver sets the progress callback.
func (c Config) WithObserver(fn Observer) Config {
	c.Observer = fn
	return c
}

// WithBaseURL points all three probes at a self-hosted endpoint server.
func (c Config) WithBaseURL(base string) Config {
	base = strings.TrimRight(base, "/")
	c.PingURL = Literal(base + "/empty")
	c.DownloadURL = BlobURL(base)
	c.UploadURL = Literal(base + "/upload")
	return c
}

// Validate reports an invalid-config error for non-positive samples, a
// negative blob size or a target that resolves to "".
func (c Config) Validate() error {
	if c.Samples < 1 {
		return lserrors.ErrInvalidConfig(fmt.Sprintf("samples must be >= 1, got %d", c.Samples))
	}
	if c.BlobSize < 0 {
		return lserrors.ErrInvalidConfig(fmt.Sprintf("blob size must be >= 0, got %d", c.BlobSize))
	}
	for _, t := range []struct {
		name   string
		target Target
	}{
		{"ping url", c.PingURL},
		{"download url", c.DownloadURL},
		{"upload url", c.UploadURL},
	} {
		if Resolve(t.target, c) == "" {
			return lserrors.ErrInvalidConfig(t.name + " is empty")
		}
	}
	return nil
}

func (c Config) doer() Doer {
	if c.Client == nil {
		return defaultClient
	}
	return c.Client
}

// Option overlays a single field onto the defaults.
type Option func(*Config)

// NewConfig applies opts, in order, to DefaultConfig().
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithSamples is the Option form of Config.WithSamples.
func WithSamples(n int) Option {
	return func(c *Config) { *c = c.WithSamples(n) }
}

// WithPingURL is the Option form of Config.WithPingURL.
func WithPingURL(url string) Option {
	return func(c *Config) { *c = c.WithPingURL(url) }
}

// WithDownloadURL is the Option form of Config.WithDownloadURL.
func WithDownloadURL(url string) Option {
	return func(c *Config) { *c = c.WithDownloadURL(url) }
}

// WithDownloadResolver is the Option form of Config.WithDownloadResolver.
func WithDownloadResolver(fn func(Config) string) Option {
	return func(c *Config) { *c = c.WithDownloadResolver(fn) }
}

// WithUploadURL is the Option form of Config.WithUploadURL.
func WithUploadURL(url string) Option {
	return func(c *Config) { *c = c.WithUploadURL(url) }
}

// WithBlobSize is the Option form of Config.WithBlobSize.
func WithBlobSize(size int64) Option {
	return func(c *Config) { *c = c.WithBlobSize(size) }
}

// WithClient is the Option form of Config.WithClient.
func WithClient(client Doer) Option {
	return func(c *Config) { *c = c.WithClient(client) }
}

// WithObserver is the Option form of Config.WithObserver.
func WithObserver(fn Observer) Option {
	return func(c *Config) { *c = c.WithObserver(fn) }
}

// WithBaseURL is the Option form of Config.WithBaseURL.
func WithBaseURL(base string) Option {
	return func(c *Config) { *c = c.WithBaseURL(base) }
}
