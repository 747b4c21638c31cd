// Package origin matches browser Origin headers against an allow-list of
// exact origins, bare hosts and "*.suffix" wildcards.
package origin

import (
	"net"
	"net/url"
	"strings"
)

// StripHostPort removes the port from a host string, handling IPv6 brackets.
func StripHostPort(host string) string {
	if host == "" {
		return host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	}
	return host
}

// Host extracts the hostname from an origin URL string.
func Host(origin string) string {
	parsed, err := url.Parse(origin)
	if err == nil && parsed.Host != "" {
		return StripHostPort(parsed.Host)
	}
	return StripHostPort(origin)
}

func Allowed(allowList []string, origin string) bool {
	originHost := Host(origin)
	for _, allowed := range allowList {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "":
			continue
		case allowed == "*":
			return true
		case strings.EqualFold(allowed, origin):
			return true
		case strings.HasPrefix(allowed, "*."):
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHost != "" && (originHost == suffix || strings.HasSuffix(originHost, "."+suffix)) {
				return true
			}
			continue
		}
		if h := Host(allowed); h != "" && originHost != "" && strings.EqualFold(h, originHost) {
			return true
		}
	}
	return false
}

func AllowsAll(allowList []string) bool {
	for _, allowed := range allowList {
		if strings.TrimSpace(allowed) == "*" {
			return true
		}
	}
	return false
}

// SameHost reports whether origin points at the host serving the request.
func SameHost(origin, requestHost string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(StripHostPort(parsed.Host), StripHostPort(requestHost))
}
