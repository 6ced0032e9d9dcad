// Package guard decides whether an outbound URL may be fetched. It is the
// only place that makes that decision: the HTTP client, its redirect policy,
// its dialer and the browser renderers all ask the same Guard.
package guard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"github.com/IshaanNene/medfeed/internal/types"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Rejection reasons carried in types.ValidationError.Reason.
const (
	ReasonMalformed    = "malformed"
	ReasonScheme       = "scheme"
	ReasonNoHost       = "no_host"
	ReasonLocalhost    = "localhost"
	ReasonPrivate      = "private_address"
	ReasonBlocked      = "blocked_cidr"
	ReasonUnresolvable = "unresolvable"
)

// Ranges that the netip class predicates do not cover.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	// IPv4-compatible (deprecated) and the NAT64 local-use prefix, whose
	// embedded address position depends on operator configuration.
	netip.MustParsePrefix("::/96"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
}

// IPv6 prefixes that carry an IPv4 address a gateway will connect to.
var (
	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	sixToFour   = netip.MustParsePrefix("2002::/16")
)

// Guard validates URLs against SSRF targets.
type Guard struct {
	resolver     Resolver
	blocked      []netip.Prefix
	allowPrivate bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithResolver overrides the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithBlockedCIDRs adds extra ranges to refuse.
func WithBlockedCIDRs(cidrs []string) Option {
	return func(g *Guard) {
		for _, c := range cidrs {
			if p, err := netip.ParsePrefix(strings.TrimSpace(c)); err == nil {
				g.blocked = append(g.blocked, p.Masked())
			}
		}
	}
}

// AllowPrivate turns off the address-class check. Scheme, host and
// blocked_cidrs checks still apply. Only for tests and local development.
func AllowPrivate(allow bool) Option {
	return func(g *Guard) { g.allowPrivate = allow }
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allowed reports whether rawURL may be fetched.
func (g *Guard) Allowed(ctx context.Context, rawURL string) bool {
	return g.Validate(ctx, rawURL) == nil
}

// Validate returns a *types.ValidationError when rawURL must not be fetched.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return reject(rawURL, ReasonMalformed, err)
	}
	return g.ValidateURL(ctx, u)
}

// ValidateURL is Validate for an already parsed URL.
func (g *Guard) ValidateURL(ctx context.Context, u *url.URL) error {
	raw := u.String()
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return reject(raw, ReasonScheme, nil)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return reject(raw, ReasonNoHost, nil)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		if g.allowPrivate {
			return nil
		}
		return reject(raw, ReasonLocalhost, nil)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return g.checkAddr(raw, addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return reject(raw, ReasonUnresolvable, err)
	}
	if len(addrs) == 0 {
		return reject(raw, ReasonUnresolvable, fmt.Errorf("no addresses for %s", host))
	}
	for _, addr := range addrs {
		if err := g.checkAddr(raw, addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckRedirect is an http.Client redirect policy that validates each hop.
func (g *Guard) CheckRedirect(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if err := g.ValidateURL(req.Context(), req.URL); err != nil {
			return fmt.Errorf("redirect blocked: %w", err)
		}
		return nil
	}
}

// DialControl is a net.Dialer Control hook. It checks the address actually
// being connected to, which catches DNS answers that changed after Validate.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return reject(address, ReasonMalformed, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return reject(address, ReasonMalformed, err)
	}
	return g.checkAddr(address, addr)
}

func (g *Guard) checkAddr(raw string, addr netip.Addr) error {
	addr = addr.Unmap()
	targets := []netip.Addr{addr}
	if v4, ok := EmbeddedIPv4(addr); ok {
		targets = append(targets, v4)
	}
	for _, p := range g.blocked {
		for _, t := range targets {
			if p.Contains(t) {
				return reject(raw, ReasonBlocked, fmt.Errorf("%s is in %s", addr, p))
			}
		}
	}
	if g.allowPrivate {
		return nil
	}
	if IsInternal(addr) {
		return reject(raw, ReasonPrivate, fmt.Errorf("%s is not a public address", addr))
	}
	return nil
}

// EmbeddedIPv4 returns the IPv4 address carried inside a NAT64
// (64:ff9b::/96) or 6to4 (2002::/16) address.
func EmbeddedIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	switch {
	case nat64Prefix.Contains(addr):
		return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
	case sixToFour.Contains(addr):
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	}
	return netip.Addr{}, false
}

// IsInternal reports whether addr belongs to a range that must never be
// fetched: loopback, private, link-local, unspecified, multicast or reserved.
// Translated IPv6 forms are judged by the IPv4 address they embed.
func IsInternal(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return true
	}
	if v4, ok := EmbeddedIPv4(addr); ok && IsInternal(v4) {
		return true
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func reject(raw, reason string, err error) error {
	return &types.ValidationError{URL: raw, Reason: reason, Err: err}
}
