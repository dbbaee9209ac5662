package security

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseAllowEntry parses an allowlist entry: a single IP or a CIDR prefix.
func ParseAllowEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return netip.Prefix{}, fmt.Errorf("empty allowlist entry")
	}

	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", entry, err)
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ip %q: %w", entry, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// NormalizeAllowList validates entries and returns them in canonical form, preserving order.
func NormalizeAllowList(entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		prefix, err := ParseAllowEntry(entry)
		if err != nil {
			return nil, err
		}
		if prefix.IsSingleIP() {
			out = append(out, prefix.Addr().String())
			continue
		}
		out = append(out, prefix.String())
	}
	return out, nil
}

// IPAllowed reports whether ip matches any entry exactly or by CIDR containment.
// Unparsable entries never match.
func IPAllowed(ip netip.Addr, entries []string) bool {
	ip = ip.Unmap()
	for _, entry := range entries {
		prefix, err := ParseAllowEntry(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseClientIP parses a request IP, tolerating a trailing port and IPv4-mapped IPv6.
func ParseClientIP(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap(), true
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	return netip.Addr{}, false
}

// AllowListWithin reports whether every entry of requested falls inside some
// entry of allowed. An empty requested list admits any address, so it is
// within allowed only when allowed is empty too.
func AllowListWithin(requested, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if len(requested) == 0 {
		return false
	}

	bounds := make([]netip.Prefix, 0, len(allowed))
	for _, entry := range allowed {
		if prefix, err := ParseAllowEntry(entry); err == nil {
			bounds = append(bounds, prefix)
		}
	}

	for _, entry := range requested {
		prefix, err := ParseAllowEntry(entry)
		if err != nil {
			return false
		}
		if !prefixCovered(prefix, bounds) {
			return false
		}
	}
	return true
}

func prefixCovered(prefix netip.Prefix, bounds []netip.Prefix) bool {
	for _, bound := range bounds {
		if bound.Bits() <= prefix.Bits() && bound.Contains(prefix.Addr()) {
			return true
		}
	}
	return false
}
