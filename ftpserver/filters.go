package ftpserver

import "net/netip"

// filterAllows reports whether addr may connect given allow/disallow CIDR
// lists: a disallow match wins even when addr also matches an allow
// entry, and an empty allow list admits everything not disallowed, per
// spec.md §4.7.
func filterAllows(addr netip.Addr, allow, disallow []netip.Prefix) bool {
	for _, p := range disallow {
		if p.Contains(addr) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, p := range allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
