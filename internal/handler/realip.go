package handler

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedRealIP rewrites RemoteAddr from the forwarding headers, but only
// for requests whose socket peer is one of the trusted proxies. Anyone else
// is identified by the connection address, whatever headers they send.
func TrustedRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trusted) > 0 {
				if peer, ok := parseIP(clientIP(r)); ok && isTrusted(trusted, peer) {
					if ip := forwardedClient(r.Header, trusted); ip != "" {
						r.RemoteAddr = net.JoinHostPort(ip, "0")
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClient walks X-Forwarded-For from the right, skipping our own
// proxies. The first hop that is not a trusted proxy is the client; entries
// further left were written by the client and are not believed.
func forwardedClient(h http.Header, trusted []netip.Prefix) string {
	var hops []string
	for _, line := range h.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(line, ",")...)
	}
	var leftmost string
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseIP(hops[i])
		if !ok {
			return ""
		}
		leftmost = addr.String()
		if !isTrusted(trusted, addr) {
			return leftmost
		}
	}
	if leftmost != "" {
		return leftmost
	}
	if addr, ok := parseIP(h.Get("X-Real-IP")); ok {
		return addr.String()
	}
	return ""
}

func parseIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(trusted []netip.Prefix, addr netip.Addr) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
