package util

import (
	"fmt"
	"net"
	"strings"
)

// ParseTrustedCIDRs parses whitelist CIDR entries, skipping blanks. A bare
// IP is widened to a /32 (or /128) so lists can mix both forms.
func ParseTrustedCIDRs(cidrStrings []string) ([]*net.IPNet, error) {
	if len(cidrStrings) == 0 {
		return nil, nil
	}

	var cidrs []*net.IPNet
	for _, cidrStr := range cidrStrings {
		cidrStr = strings.TrimSpace(cidrStr)
		if cidrStr == "" {
			continue
		}

		if !strings.Contains(cidrStr, "/") {
			if ip := net.ParseIP(cidrStr); ip != nil {
				if ip.To4() != nil {
					cidrStr += "/32"
				} else {
					cidrStr += "/128"
				}
			}
		}

		_, network, err := net.ParseCIDR(cidrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidrStr, err)
		}
		cidrs = append(cidrs, network)
	}

	return cidrs, nil
}

// IPInCIDRs reports whether the identifier is an IP covered by any of the
// networks. Non-IP identifiers never match.
func IPInCIDRs(identifier string, cidrs []*net.IPNet) bool {
	if len(cidrs) == 0 {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(identifier))
	if ip == nil {
		return false
	}
	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
