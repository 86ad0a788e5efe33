package acmecert

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"

	"github.com/gonzalop/ftpd/internal/eventloop"
)

// ProvisionerConfig names the inputs spec.md §4.9 lists:
// (directory_url, contacts, hostnames, how_to_serve_challenges) minus
// hostnames, which ObtainCertificate takes per call.
type ProvisionerConfig struct {
	DirectoryURL  string
	Contacts      []string
	ChallengeAddr string // bind address for the internal HTTP-01 listener
	Logger        *slog.Logger
}

// Provisioner obtains certificates through ACME (RFC 8555), serving
// HTTP-01 challenges on an internal listener rather than writing token
// files to an externally configured well-known directory.
type Provisioner struct {
	cfg  ProvisionerConfig
	loop *eventloop.Loop
}

// NewProvisioner builds a Provisioner. loop is the shared event loop the
// internal challenge listener's per-connection pipelines run on.
func NewProvisioner(cfg ProvisionerConfig, loop *eventloop.Loop) *Provisioner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provisioner{cfg: cfg, loop: loop}
}

// httpSolver implements acmez.Solver by publishing the key authorization
// on the Provisioner's internal challenge listener for the duration of
// the challenge.
type httpSolver struct {
	cs *challengeServer
}

func (h *httpSolver) Present(_ context.Context, chal acme.Challenge) error {
	h.cs.publish(chal.Token, chal.KeyAuthorization)
	return nil
}

func (h *httpSolver) Wait(context.Context, acme.Challenge) error { return nil }

func (h *httpSolver) CleanUp(_ context.Context, chal acme.Challenge) error {
	h.cs.unpublish(chal.Token)
	return nil
}

// ObtainCertificate runs the full RFC 8555 exchange for hostnames:
// account registration, order creation, HTTP-01 challenge validation,
// finalization, and download, per spec.md §4.9.
func (p *Provisioner) ObtainCertificate(ctx context.Context, hostnames []string) (Entry, error) {
	ln, err := net.Listen("tcp", p.cfg.ChallengeAddr)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: binding challenge listener: %w", err)
	}
	cs := newChallengeServer(p.loop, p.cfg.Logger)
	go cs.serve(ln)
	defer ln.Close()

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil // acmez does its own logging via client.Logger

	client := &acmez.Client{
		Directory:  p.cfg.DirectoryURL,
		HTTPClient: retryClient.StandardClient(),
		Logger:     p.cfg.Logger,
		ChallengeSolvers: map[string]acmez.Solver{
			acme.ChallengeTypeHTTP01: &httpSolver{cs: cs},
		},
	}

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: generating account key: %w", err)
	}
	account, err := client.NewAccount(ctx, acme.Account{
		Contact:              p.cfg.Contacts,
		TermsOfServiceAgreed: true,
		PrivateKey:           accountKey,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: registering account: %w", err)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: generating certificate key: %w", err)
	}
	certs, err := client.ObtainCertificateForSANs(ctx, account, certKey, hostnames)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: obtaining certificate: %w", err)
	}
	if len(certs) == 0 {
		return Entry{}, fmt.Errorf("acmecert: ACME server returned no certificates")
	}

	tlsCert, err := tls.X509KeyPair(certs[0].ChainPEM, certs[0].PrivateKeyPEM)
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: parsing issued certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return Entry{}, fmt.Errorf("acmecert: parsing issued leaf: %w", err)
	}

	return Entry{
		Kind:      KindACME,
		Cert:      tlsCert,
		Hostnames: hostnames,
		NotAfter:  leaf.NotAfter,
	}, nil
}
