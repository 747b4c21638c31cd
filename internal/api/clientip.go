package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/saveenergy/linkspeed/internal/config"
)

// ClientIPResolver picks the address to attribute a request to. Forwarding
// headers are honoured only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trustProxyHeaders bool
	trusted           []netip.Prefix
}

func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	if cfg == nil {
		return &ClientIPResolver{}
	}
	r := &ClientIPResolver{trustProxyHeaders: cfg.TrustProxyHeaders}
	for _, entry := range cfg.TrustedProxyCIDRs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(entry)); err == nil {
			r.trusted = append(r.trusted, p.Masked())
		}
	}
	return r
}

func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	remote, ok := parseAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !r.trustProxyHeaders || !r.isTrusted(remote) {
		return remote.String()
	}

	if client, ok := r.rightmostUntrusted(req.Header.Get("X-Forwarded-For")); ok {
		return client.String()
	}
	if client, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
		return client.String()
	}
	return remote.String()
}

// rightmostUntrusted walks X-Forwarded-For from the right, skipping trusted
// hops, so that client-supplied prefixes cannot spoof the address.
func (r *ClientIPResolver) rightmostUntrusted(xff string) (netip.Addr, bool) {
	if xff == "" {
		return netip.Addr{}, false
	}
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		addr, ok := parseAddr(parts[i])
		if !ok || r.isTrusted(addr) {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare IP, a bracketed IPv6 literal or host:port.
func parseAddr(value string) (netip.Addr, bool) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(clean); err == nil {
		clean = host
	}
	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	addr, err := netip.ParseAddr(clean)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
