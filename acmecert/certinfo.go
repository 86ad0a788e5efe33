package acmecert

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gonzalop/ftpd/adminproto"
)

// Kind aliases adminproto's wire enum so callers outside this package
// never need to convert between two equivalent integer types.
type Kind = adminproto.CertInfoKind

const (
	KindUserProvided  = adminproto.CertInfoUserProvided
	KindAutoGenerated = adminproto.CertInfoAutoGenerated
	KindUploaded      = adminproto.CertInfoUploaded
	KindACME          = adminproto.CertInfoACME
)

// Entry is one installed certificate, with the sourcing metadata
// adminserver reports back over get_cert_info (spec.md §6 Certificate
// formats).
type Entry struct {
	Kind      Kind
	Cert      tls.Certificate
	Hostnames []string
	NotAfter  time.Time
}

// Fingerprint formats the leaf certificate's SHA-256 digest as
// "sha256:<hex>", the wire format §6 specifies.
func (e Entry) Fingerprint() string {
	if len(e.Cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(e.Cert.Certificate[0])
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ToProto converts e to the wire shape get_cert_info/cert_info carry.
func (e Entry) ToProto() adminproto.CertInfo {
	return adminproto.CertInfo{
		Kind:        e.Kind,
		Fingerprint: e.Fingerprint(),
		NotAfter:    e.NotAfter.Format(time.RFC3339),
		Hostnames:   e.Hostnames,
	}
}

// Store holds one certificate per listener name, swapped atomically so
// that a handshake already in progress keeps using the entry it started
// with (spec.md §5's shared-resource policy for configuration state).
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore returns an empty Store.
func NewStore() *Store { return &Store{entries: make(map[string]Entry)} }

// Set installs e as the current certificate for listener.
func (s *Store) Set(listener string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[listener] = e
}

// Get returns the current certificate for listener, if one is installed.
func (s *Store) Get(listener string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[listener]
	return e, ok
}

// TLSConfig returns a *tls.Config whose GetCertificate reads through to
// s on every handshake, so a later Set takes effect on the next
// connection without rebuilding the listener.
func (s *Store) TLSConfig(listener string, minVersion uint16) *tls.Config {
	return &tls.Config{
		MinVersion: minVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			e, ok := s.Get(listener)
			if !ok {
				return nil, fmt.Errorf("acmecert: no certificate installed for listener %q", listener)
			}
			return &e.Cert, nil
		},
	}
}
