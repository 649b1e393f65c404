// Package netutil canonicalizes client network addresses. The IP-match
// resolution fallback compares an address captured at share time against an
// address reported after install, typically across different stacks (browser
// behind a proxy vs. native app), so both sides must run the identical
// normalization or the comparison silently never matches.
//
// Rules:
//   - IPv4-mapped IPv6 addresses ("::ffff:203.0.113.5") unwrap to their
//     IPv4 form, so both representations compare equal.
//   - Loopback and unspecified addresses count as "no usable address".
//   - Proxy headers are consulted in a fixed precedence order and the first
//     usable hop wins.
package netutil

import (
	"net/http"
	"net/netip"
	"strings"
)

// proxyHeaders are single-value vendor headers tried after X-Forwarded-For,
// in order.
var proxyHeaders = []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"}

// Normalize parses s as an IP address (with or without a port) and returns
// its canonical comparable form. It returns "" when s is empty, unparsable,
// loopback, or unspecified. IPv4-mapped IPv6 input collapses to dotted-quad
// IPv4, making "::ffff:203.0.113.5" and "203.0.113.5" equal after
// normalization.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		// Maybe host:port (RemoteAddr form), including bracketed IPv6.
		ap, err2 := netip.ParseAddrPort(s)
		if err2 != nil {
			return ""
		}
		addr = ap.Addr()
	}

	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() || !addr.IsValid() {
		return ""
	}
	return addr.String()
}

// Equal reports whether a and b normalize to the same usable address.
// Two unusable addresses are never equal.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

// ClientIP extracts the most plausible client address from an HTTP request:
// the first entry of X-Forwarded-For, then each vendor single-value header,
// then the raw peer address — taking the first value that normalizes to a
// usable (non-loopback, non-unspecified) address. It returns "" when no hop
// yields one, e.g. for requests arriving over loopback in development.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := Normalize(first); ip != "" {
			return ip
		}
	}
	for _, h := range proxyHeaders {
		if ip := Normalize(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	return Normalize(r.RemoteAddr)
}
