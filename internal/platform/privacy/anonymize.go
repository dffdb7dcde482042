// Package privacy masks client addresses before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

// Placeholders for addresses that cannot be masked.
const (
	Unknown = "unknown"
	Invalid = "invalid"
)

// AnonymizeIP keeps the /24 of an IPv4 address and the /48 of an IPv6
// address. IPv4-mapped IPv6 addresses are treated as IPv4.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == Unknown {
		return Unknown
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Invalid
	}
	addr = addr.Unmap()

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return Invalid
	}
	return prefix.Addr().String()
}

// ClientNetwork masks the host of a remote address in host:port form, as
// found in http.Request.RemoteAddr. A bare address is accepted too.
func ClientNetwork(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return AnonymizeIP(host)
}
