package fetch

import (
	"context"
	"fmt"
	"net"
)

// SSRFPolicy bundles the two SSRF gates of §6.4: FilterRemote for literal
// IPs, Lookup for hostnames needing DNS resolution. BlockLocal, when true,
// installs the default unicast-only implementations of both.
type SSRFPolicy struct {
	BlockLocal   bool
	FilterRemote func(ip net.IP) error
	Lookup       LookupFunc
}

// ErrForbiddenIP is returned by the default filter/lookup for any
// non-unicast-routable address.
var ErrForbiddenIP = fmt.Errorf("forbidden IP")

// DefaultPolicy returns the SSRFPolicy the spec calls for when BlockLocal is
// left at its default of true: reject any address that isn't global
// unicast.
func DefaultPolicy() SSRFPolicy {
	p := SSRFPolicy{BlockLocal: true}
	p.FilterRemote = defaultFilterRemote
	p.Lookup = defaultLookup
	return p
}

// NoPolicy disables all SSRF protection (BlockLocal=false).
func NoPolicy() SSRFPolicy {
	return SSRFPolicy{}
}

func defaultFilterRemote(ip net.IP) error {
	if isForbidden(ip) {
		return ErrForbiddenIP
	}

	return nil
}

func defaultLookup(ctx context.Context, network, host string) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isForbidden(ip) {
			return nil, ErrForbiddenIP
		}
	}

	return addrs, nil
}

// isForbidden reports whether ip is anything other than a global unicast
// address: loopback, link-local, private (RFC 1918/4193), multicast, or
// unspecified.
func isForbidden(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsPrivate(),
		ip.IsUnspecified(),
		ip.IsMulticast():
		return true
	default:
		return !ip.IsGlobalUnicast()
	}
}

// Check runs the policy's FilterRemote gate against host if it is a literal
// IP, and is a no-op (DNS resolution happens later, gated by Lookup inside
// the transport's DialContext) if host is a hostname.
func (p SSRFPolicy) Check(host string) error {
	if !p.BlockLocal && p.FilterRemote == nil {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}

	if p.FilterRemote == nil {
		return nil
	}

	return p.FilterRemote(ip)
}
