// Package transport builds the HTTP clients used by the probe commands:
// address-family pinning, optional proxying and optional HTTP/2.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

const (
	defaultDialTimeout = 10 * time.Second
	keepAlive          = 30 * time.Second
)

type Options struct {
	// Network is tcp, tcp4 or tcp6. Empty means tcp.
	Network string
	// Proxy is socks5://, socks5h://, http:// or https://. Empty falls back
	// to the environment (HTTP_PROXY and friends).
	Proxy       string
	HTTP2       bool
	DialTimeout time.Duration
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout time.Duration
}

func NewClient(opts Options) (*http.Client, error) {
	t, err := NewTransport(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: opts.Timeout}, nil
}

func NewTransport(opts Options) (*http.Transport, error) {
	network, err := normalizeNetwork(opts.Network)
	if err != nil {
		return nil, err
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	base := &pinnedDialer{
		network: network,
		dialer:  &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive},
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           base.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Compressed bodies would distort the transferred byte count.
		DisableCompression: true,
	}

	if opts.Proxy != "" {
		if err := applyProxy(t, base, opts.Proxy); err != nil {
			return nil, err
		}
	}

	if opts.HTTP2 {
		if err := http2.ConfigureTransport(t); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}
	return t, nil
}

func normalizeNetwork(network string) (string, error) {
	switch network {
	case "", "tcp":
		return "tcp", nil
	case "tcp4", "tcp6":
		return network, nil
	default:
		return "", fmt.Errorf("invalid network %q (must be tcp, tcp4 or tcp6)", network)
	}
}

func applyProxy(t *http.Transport, base *pinnedDialer, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid proxy URL %q", raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, base)
		if err != nil {
			return fmt.Errorf("socks proxy: %w", err)
		}
		t.Proxy = nil
		if cd, ok := d.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

// pinnedDialer dials every connection over a fixed network so that a
// measurement can be forced onto IPv4 or IPv6.
type pinnedDialer struct {
	network string
	dialer  *net.Dialer
}

func (d *pinnedDialer) Dial(_, addr string) (net.Conn, error) {
	return d.dialer.Dial(d.network, addr)
}

func (d *pinnedDialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, d.network, addr)
}
