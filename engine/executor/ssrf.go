package executor

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLGuard validates http-node targets before a request leaves the
// process: scheme allow-list plus SSRF protection rejecting loopback,
// private, link-local, multicast, and unspecified addresses unless
// AllowPrivate is set.
type URLGuard struct {
	AllowedSchemes []string
	AllowPrivate   bool

	// lookupIP is swappable for tests; defaults to net.LookupIP.
	lookupIP func(host string) ([]net.IP, error)
}

// NewURLGuard creates a guard with the given policy
func NewURLGuard(allowedSchemes []string, allowPrivate bool) *URLGuard {
	return &URLGuard{
		AllowedSchemes: allowedSchemes,
		AllowPrivate:   allowPrivate,
		lookupIP:       net.LookupIP,
	}
}

// Validate checks one target URL
func (g *URLGuard) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range g.AllowedSchemes {
		if scheme == strings.ToLower(s) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if g.AllowPrivate {
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("host %q is blocked (loopback)", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.validateIP(ip)
	}

	ips, err := g.lookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("host %q resolved to no addresses", host)
	}
	for _, ip := range ips {
		if err := g.validateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *URLGuard) validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is blocked (loopback)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("address %s is blocked (link-local)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is blocked (multicast)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is blocked (unspecified)", ip)
	}
	return nil
}
