package ip

import (
	"net/netip"
)

// CompareAddrs compares two addresses after unmapping IPv4-in-IPv6 forms,
// so that a reply read from a dual stack socket matches its IPv4 target.
func CompareAddrs(x, y netip.Addr) int {
	return x.Unmap().Compare(y.Unmap())
}
