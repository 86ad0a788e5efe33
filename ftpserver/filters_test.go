package ftpserver

import (
	"net/netip"
	"testing"
)

func TestFilterAllows(t *testing.T) {
	allow := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	disallow := []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16")}

	cases := []struct {
		addr string
		want bool
	}{
		{"10.2.3.4", true},
		{"10.1.2.3", false}, // disallow wins even though it's also inside allow
		{"192.168.1.1", false},
	}
	for _, c := range cases {
		got := filterAllows(netip.MustParseAddr(c.addr), allow, disallow)
		if got != c.want {
			t.Errorf("filterAllows(%s) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestFilterAllowsEmptyAllowList(t *testing.T) {
	disallow := []netip.Prefix{netip.MustParsePrefix("172.16.0.0/12")}
	if !filterAllows(netip.MustParseAddr("8.8.8.8"), nil, disallow) {
		t.Error("an empty allow list should admit anything not disallowed")
	}
	if filterAllows(netip.MustParseAddr("172.16.5.5"), nil, disallow) {
		t.Error("disallowed address should be rejected even with an empty allow list")
	}
}
