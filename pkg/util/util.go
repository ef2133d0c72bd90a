package util

import (
	"net/netip"
	"strings"
)

// CollapseWhitespace trims s and folds every run of whitespace into one space
func CollapseWhitespace(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// IsPublicIP reports whether ip parses and is routable on the internet, i.e. worth asking a
// geolocation provider about.
func IsPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast())
}
