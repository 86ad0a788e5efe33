package acmecert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// GenerateSelfSigned produces a self-signed ECDSA P-256 certificate
// valid for the given duration, covering hostnames (DNS names or IP
// literals), per gui/generatecertificatedialog.cpp's "generate now" path.
func GenerateSelfSigned(hostnames []string, validity time.Duration) (Entry, error) {
	if len(hostnames) == 0 {
		return Entry{}, fmt.Errorf("acmecert: at least one hostname is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: generating serial: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(validity)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostnames[0]},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hostnames {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: creating certificate: %w", err)
	}
	return Entry{
		Kind:      KindAutoGenerated,
		Cert:      tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Hostnames: hostnames,
		NotAfter:  notAfter,
	}, nil
}

// ParsePEMBundle loads an Entry from an uploaded or user-provided PEM
// bundle (certificate chain followed by the private key, concatenated),
// per gui/certinfoeditor.cpp. kind distinguishes the two in the
// resulting Entry for reporting purposes only; the parsing is identical.
func ParsePEMBundle(kind Kind, pemBundle []byte) (Entry, error) {
	cert, err := tls.X509KeyPair(pemBundle, pemBundle)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: parsing PEM bundle: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: parsing leaf certificate: %w", err)
	}
	return Entry{
		Kind:      kind,
		Cert:      cert,
		Hostnames: leaf.DNSNames,
		NotAfter:  leaf.NotAfter,
	}, nil
}
