package ftpserver

import (
	"net/netip"
	"testing"
	"time"
)

func TestAutobannerBansAfterThreshold(t *testing.T) {
	a := newAutobanner(3, time.Minute, time.Hour)
	addr := netip.MustParseAddr("203.0.113.7")

	for i := 0; i < 3; i++ {
		if a.Banned(addr) {
			t.Fatalf("banned too early, after %d failures", i)
		}
		a.RecordFailure(addr)
	}
	if !a.Banned(addr) {
		t.Error("expected address to be banned on reaching the failure threshold")
	}
}

func TestAutobannerRecordSuccessResetsHistory(t *testing.T) {
	a := newAutobanner(2, time.Minute, time.Hour)
	addr := netip.MustParseAddr("203.0.113.9")

	a.RecordFailure(addr)
	a.RecordSuccess(addr)
	a.RecordFailure(addr)
	if a.Banned(addr) {
		t.Error("a success should reset the failure bucket, not leave it primed to ban on the next failure")
	}
}

func TestAutobannerUnrelatedAddressUnaffected(t *testing.T) {
	a := newAutobanner(1, time.Minute, time.Hour)
	banned := netip.MustParseAddr("198.51.100.1")
	other := netip.MustParseAddr("198.51.100.2")

	a.RecordFailure(banned)
	if !a.Banned(banned) {
		t.Fatal("expected banned address to be banned")
	}
	if a.Banned(other) {
		t.Error("an unrelated address must not be affected by another address's ban")
	}
}
