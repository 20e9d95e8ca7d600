package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TruncateIP zeroes the host half of an IPv6 address. IPv4 and unparseable
// input are returned unchanged.
func TruncateIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return ip
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}

// ClientIP resolves the caller address from proxy headers and returns it both
// truncated for hashing and raw for reputation lookups.
func ClientIP(header http.Header, remoteAddr string) (truncated, raw string) {
	raw = strings.TrimSpace(header.Get("X-Real-IP"))
	if raw == "" {
		if xff := header.Get("X-Forwarded-For"); xff != "" {
			raw = strings.TrimSpace(strings.Split(xff, ",")[0])
		}
	}
	if raw == "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			raw = host
		} else {
			raw = remoteAddr
		}
	}
	return TruncateIP(raw), raw
}

// DeviceInfo picks the device input for hashing: the fingerprint text, then
// the user agent, then "unknown".
func DeviceInfo(fingerprint, userAgent string) string {
	switch {
	case fingerprint != "":
		return fingerprint
	case userAgent != "":
		return userAgent
	default:
		return "unknown"
	}
}
