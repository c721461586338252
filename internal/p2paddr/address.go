// Package p2paddr canonicalizes peer host:port strings the way the B1
// protocol expects them: no scheme, an explicit port, and a stable string
// that can be used as both a map key and a unique-index value.
package p2paddr

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPort is used whenever a parsed address carries no explicit port.
const DefaultPort = 8123

// Address is a canonicalized "host:port" peer address.
type Address struct {
	host string
	port int
}

// Parse accepts arbitrary URL-ish input ("https://host", "host:port",
// "host", a bracketed IPv6 literal, ...), strips any scheme, and returns
// the canonical Address. Port defaults to DefaultPort when absent.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("p2paddr: empty address")
	}

	// Strip any existing scheme so the caller can pass "https://host:port",
	// "host:port", or bare "host" interchangeably.
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}

	// Parse with a placeholder scheme so the URL library is forced to
	// honor an explicit port rather than defaulting it based on a real
	// scheme like http/https.
	u, err := url.Parse("dummyscheme://" + s)
	if err != nil {
		return Address{}, fmt.Errorf("p2paddr: parsing %q: %w", s, err)
	}

	host := u.Hostname()
	if host == "" {
		return Address{}, fmt.Errorf("p2paddr: %q has no host", s)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			return Address{}, fmt.Errorf("p2paddr: invalid port in %q: %w", s, err)
		}
	}

	return Address{host: host, port: port}, nil
}

// String returns the canonical "host:port" form. IPv6 hosts are
// re-bracketed.
func (a Address) String() string {
	if strings.Contains(a.host, ":") {
		return fmt.Sprintf("[%s]:%d", a.host, a.port)
	}
	return fmt.Sprintf("%s:%d", a.host, a.port)
}

// RequestURL returns the outbound HTTP URL for this peer.
func (a Address) RequestURL() string {
	return "http://" + a.String()
}

// Host returns the canonical host component.
func (a Address) Host() string { return a.host }

// Port returns the canonical port component.
func (a Address) Port() int { return a.port }

// Equal reports whether two addresses share the same canonical form.
func (a Address) Equal(b Address) bool {
	return a.String() == b.String()
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a.host == "" && a.port == 0
}
