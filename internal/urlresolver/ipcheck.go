package urlresolver

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrBlockedAddress is returned when a connection targets a non-public address
var ErrBlockedAddress = errors.New("connection to non-public address blocked")

// CloudMetadataIP is the link-local instance metadata endpoint used by the major clouds
var CloudMetadataIP = net.IPv4(169, 254, 169, 254)

var (
	nat64Net  = mustParseCIDR("64:ff9b::/96")
	sixToFour = mustParseCIDR("2002::/16")
)

var blockedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/96",
	"64:ff9b:1::/48",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		nets = append(nets, mustParseCIDR(c))
	}
	return nets
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
	}
	return n
}

// embeddedIPv4 returns the IPv4 address carried by a NAT64 or 6to4 address
func embeddedIPv4(ip net.IP) net.IP {
	ip = ip.To16()
	switch {
	case ip == nil:
		return nil
	case nat64Net.Contains(ip):
		return net.IPv4(ip[12], ip[13], ip[14], ip[15]).To4()
	case sixToFour.Contains(ip):
		return net.IPv4(ip[2], ip[3], ip[4], ip[5]).To4()
	}
	return nil
}

// IsBlocked reports whether ip is private, loopback, link-local, multicast,
// unspecified, reserved, documentation or the cloud metadata address. NAT64
// and 6to4 addresses are judged by the IPv4 address they embed.
func IsBlocked(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	} else if v4 := embeddedIPv4(ip); v4 != nil {
		ip = v4
	}
	if ip.Equal(CloudMetadataIP) || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// guardControl is a net.Dialer Control hook that refuses non-public peers at
// connect time, after any DNS resolution performed by the transport.
func guardControl(_ string, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if IsBlocked(net.ParseIP(host)) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}
