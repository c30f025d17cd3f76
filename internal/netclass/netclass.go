// Package netclass resolves the caller's IP and classifies originless callers as internal
// (CIDR allow-list or verified mutual-TLS client certificate).
package netclass

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the canonical caller IP for r. It reads r.RemoteAddr, which already holds
// the forwarded client address when a trusted proxy is configured and chi's RealIP ran first.
// IPv4-mapped IPv6 addresses (::ffff:a.b.c.d) are unmapped. Unparseable addresses are returned
// trimmed as-is so they still key rate limits and the blocklist.
func ClientIP(r *http.Request) string {
	addr, ok := ClientAddr(r)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return addr.String()
}

// ClientAddr parses the caller IP from r.RemoteAddr.
func ClientAddr(r *http.Request) (netip.Addr, bool) {
	return ParseAddr(r.RemoteAddr)
}

// ParseAddr parses "host:port", "[v6]:port" or a bare address, dropping any zone and
// unmapping IPv4-mapped IPv6.
func ParseAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

// Classifier decides whether an originless request comes from a trusted internal network.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	prefixes []netip.Prefix
}

// NewClassifier parses the CIDR allow-list. Entries may be CIDR blocks or single addresses
// (treated as /32 or /128). Invalid entries are returned in skipped so the caller can log them;
// they never fail construction.
func NewClassifier(cidrs []string) (c *Classifier, skipped []error) {
	c = &Classifier{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parsePrefix(raw)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		c.prefixes = append(c.prefixes, prefix)
	}
	return c, skipped
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", raw, err)
		}
		addr := p.Addr()
		if addr.Is4In6() {
			// ::ffff:10.0.0.0/104 is the same network as 10.0.0.0/8.
			bits := p.Bits() - 96
			if bits < 0 {
				return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: mapped prefix shorter than /96", raw)
			}
			p = netip.PrefixFrom(addr.Unmap(), bits)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Prefixes returns a copy of the configured networks.
func (c *Classifier) Prefixes() []netip.Prefix {
	if c == nil {
		return nil
	}
	out := make([]netip.Prefix, len(c.prefixes))
	copy(out, c.prefixes)
	return out
}

// Contains reports whether addr falls inside any configured network.
func (c *Classifier) Contains(addr netip.Addr) bool {
	if c == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsInternal reports whether r comes from an internal caller: its IP falls in a configured
// network, or its TLS connection presented a client certificate that verified against the
// server's client CA pool.
func (c *Classifier) IsInternal(r *http.Request) bool {
	if HasVerifiedClientCert(r) {
		return true
	}
	addr, ok := ClientAddr(r)
	if !ok {
		return false
	}
	return c.Contains(addr)
}

// HasVerifiedClientCert reports whether the connection carried an authorized client certificate.
func HasVerifiedClientCert(r *http.Request) bool {
	return r.TLS != nil && len(r.TLS.VerifiedChains) > 0
}
