// Package ipfilter restricts HTTP endpoints to a list of addresses and
// networks. It guards the webhook and the metrics endpoint, which carry no
// API key.
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes
type Filter struct {
	prefixes   []netip.Prefix
	trustProxy bool
	logger     *slog.Logger
}

// Parse converts addresses and CIDRs into prefixes. A bare address becomes
// a single-host prefix.
func Parse(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// New creates a filter. An empty list allows everybody. With trustProxy
// the first X-Forwarded-For or X-Real-IP address is used as the client.
func New(entries []string, trustProxy bool, logger *slog.Logger) (*Filter, error) {
	prefixes, err := Parse(entries)
	if err != nil {
		return nil, err
	}
	return &Filter{prefixes: prefixes, trustProxy: trustProxy, logger: logger}, nil
}

// Enabled returns true if filtering is active
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Allows reports whether addr may pass
func (f *Filter) Allows(addr netip.Addr) bool {
	if !f.Enabled() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr extracts the client address from a request
func ClientAddr(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return a, true
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if a, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
				return a, true
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a, true
}

// Middleware rejects requests from addresses outside the allowed list
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := ClientAddr(r, f.trustProxy)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !f.Allows(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
