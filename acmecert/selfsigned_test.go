package acmecert

import (
	"crypto/tls"
	"strings"
	"testing"
	"time"
)

func TestGenerateSelfSignedCoversHostnames(t *testing.T) {
	entry, err := GenerateSelfSigned([]string{"ftp.example.com", "127.0.0.1"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if entry.Kind != KindAutoGenerated {
		t.Errorf("Kind = %v, want KindAutoGenerated", entry.Kind)
	}
	if len(entry.Cert.Certificate) == 0 {
		t.Fatal("expected at least one DER certificate")
	}
	if !strings.HasPrefix(entry.Fingerprint(), "sha256:") {
		t.Errorf("Fingerprint() = %q, want sha256:-prefixed", entry.Fingerprint())
	}
	if entry.NotAfter.Before(time.Now()) {
		t.Error("NotAfter should be in the future")
	}
}

func TestStoreTLSConfigServesInstalledCertificate(t *testing.T) {
	entry, err := GenerateSelfSigned([]string{"ftp.example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	store := NewStore()
	store.Set("listener-1", entry)

	cfg := store.TLSConfig("listener-1", tls.VersionTLS12)
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if len(cert.Certificate) != len(entry.Cert.Certificate) {
		t.Error("GetCertificate returned a different certificate than the one installed")
	}
}

func TestStoreTLSConfigMissingListener(t *testing.T) {
	store := NewStore()
	cfg := store.TLSConfig("unbound", tls.VersionTLS12)
	if _, err := cfg.GetCertificate(&tls.ClientHelloInfo{}); err == nil {
		t.Error("expected an error for a listener with no installed certificate")
	}
}
