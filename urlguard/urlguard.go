// Package urlguard rejects acquisition targets that are not plain public
// http(s) URLs before any browser is spent on them.
package urlguard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrMalformed is returned when the input does not parse as a URL.
	ErrMalformed = errors.New("urlguard: malformed URL")
	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = errors.New("urlguard: only http and https schemes are allowed")
	// ErrNoHost is returned when a URL has no hostname.
	ErrNoHost = errors.New("urlguard: URL has no host")
	// ErrPrivateHost is returned when a URL targets a private or loopback address.
	ErrPrivateHost = errors.New("urlguard: URL targets a private or loopback address")
)

// Guard validates target URLs. The zero value resolves hostnames with
// net.LookupHost and blocks private ranges.
type Guard struct {
	// AllowPrivate disables the private/loopback check (tests, intranet portals).
	AllowPrivate bool
	// Lookup resolves a hostname. Nil means net.LookupHost.
	Lookup func(host string) ([]string, error)
}

// Check parses rawURL and returns it if it is safe to navigate to.
// A DNS failure is let through: the navigation will fail and be classified
// on its own.
func (g Guard) Check(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, ErrNoHost
	}
	if g.AllowPrivate {
		return u, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return nil, ErrPrivateHost
		}
		return u, nil
	}

	lookup := g.Lookup
	if lookup == nil {
		lookup = net.LookupHost
	}
	addrs, err := lookup(host)
	if err != nil {
		return u, nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return nil, ErrPrivateHost
		}
	}
	return u, nil
}

// Check validates rawURL with the default Guard.
func Check(rawURL string) error {
	_, err := Guard{}.Check(rawURL)
	return err
}

var privateRanges = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"fc00::/7",
)

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("urlguard: bad CIDR " + c)
		}
		out = append(out, n)
	}
	return out
}
