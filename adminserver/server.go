package adminserver

import (
	"bytes"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpd/acmecert"
	"github.com/gonzalop/ftpd/adminproto"
	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/ftpserver"
)

// defaultSelfSignedValidity is how long a certificate generate_selfsigned_cert
// produces stays valid, per gui/generatecertificatedialog.cpp's default.
const defaultSelfSignedValidity = 365 * 24 * time.Hour

// dummyHash lets checkCredentials run bcrypt for an unknown admin
// username too, so the timing of a bad username and a bad password are
// indistinguishable, the same defense auth.Authenticator.VerifyPassword
// applies to FTP logins.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("adminserver-dummy"), bcrypt.DefaultCost)

// Server is the administration endpoint: the single authoritative owner
// of config.Settings, per spec.md §5's shared-resource policy. FTP
// listeners read through config at startup and the certificate store at
// every handshake; they never write either.
type Server struct {
	mu           sync.Mutex
	settings     config.Settings
	settingsPath string
	provisioner  func(hostnames []string) (acmecert.Entry, error)

	certs *acmecert.Store

	registriesMu sync.Mutex
	registries   map[string]*ftpserver.SessionRegistry

	logger *slog.Logger

	sessMu   sync.Mutex
	sessions map[string]*adminSession
}

// NewServer builds a Server over the given initial settings snapshot and
// certificate store. settingsPath is where SetConfig persists mutations.
func NewServer(settingsPath string, initial config.Settings, certs *acmecert.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		settings:     initial,
		settingsPath: settingsPath,
		certs:        certs,
		registries:   make(map[string]*ftpserver.SessionRegistry),
		logger:       logger,
		sessions:     make(map[string]*adminSession),
	}
}

// SetProvisioner installs the function set_cert_info{Kind: ACME} calls to
// obtain a certificate. Left nil, ACME requests fail with a clear reason
// instead of silently hanging.
func (s *Server) SetProvisioner(p func(hostnames []string) (acmecert.Entry, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioner = p
}

// RegisterListener makes an ftpserver.Server's session table visible to
// list_sessions/kick_session under name.
func (s *Server) RegisterListener(name string, reg *ftpserver.SessionRegistry) {
	s.registriesMu.Lock()
	defer s.registriesMu.Unlock()
	s.registries[name] = reg
}

// Serve accepts administration connections on ln, terminating TLS with
// tlsConfig before handing each connection to an adminSession. It blocks
// until ln.Accept fails, matching ftpserver.Server.Serve's shape.
func (s *Server) Serve(ln net.Listener, tlsConfig *tls.Config) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(tls.Server(conn, tlsConfig))
	}
}

// ServeConn runs the administration session loop directly over an
// already-established connection, without accepting or wrapping TLS.
// Serve uses this after terminating TLS; it is also the hook an
// in-process test harness uses to drive a session over a net.Pipe.
func (s *Server) ServeConn(conn net.Conn) {
	newAdminSession(s, conn).serve()
}

func (s *Server) checkCredentials(username, password string) bool {
	s.mu.Lock()
	admin := s.settings.Admin
	s.mu.Unlock()
	if username == "" || username != admin.Username || admin.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) == nil
}

func (s *Server) marshalSettings() ([]byte, error) {
	s.mu.Lock()
	cur := s.settings
	s.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(cur); err != nil {
		return nil, fmt.Errorf("adminserver: encoding configuration: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) applySettings(raw []byte) error {
	var next config.Settings
	if err := xml.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("adminserver: parsing configuration: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := config.Save(s.settingsPath, next); err != nil {
		return fmt.Errorf("adminserver: persisting configuration: %w", err)
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()
	s.broadcast(adminproto.TagChangeNotification, adminproto.ChangeNotification{Kind: "config"})
	return nil
}

func (s *Server) listSessions() []adminproto.SessionInfo {
	s.registriesMu.Lock()
	regs := make([]*ftpserver.SessionRegistry, 0, len(s.registries))
	for _, r := range s.registries {
		regs = append(regs, r)
	}
	s.registriesMu.Unlock()

	var out []adminproto.SessionInfo
	for _, r := range regs {
		out = append(out, r.List()...)
	}
	return out
}

func (s *Server) kickSession(id string) {
	s.registriesMu.Lock()
	regs := make([]*ftpserver.SessionRegistry, 0, len(s.registries))
	for _, r := range s.registries {
		regs = append(regs, r)
	}
	s.registriesMu.Unlock()

	for _, r := range regs {
		if r.Kick(id) {
			s.broadcast(adminproto.TagChangeNotification, adminproto.ChangeNotification{Kind: "session"})
			return
		}
	}
}

func (s *Server) addSession(id string, sess *adminSession) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.sessions[id] = sess
}

func (s *Server) removeSession(id string) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	delete(s.sessions, id)
}

// broadcast sends v under tag to every logged-in session, best-effort:
// a session whose sending_allowed doesn't cover tag, or whose connection
// is already gone, is logged and skipped rather than blocking the rest.
func (s *Server) broadcast(tag adminproto.Tag, v any) {
	s.sessMu.Lock()
	targets := make([]*adminSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.sessMu.Unlock()
	for _, sess := range targets {
		sess.send(tag, v)
	}
}

// provisionACME runs the (slow, network-bound) ACME exchange on its own
// goroutine and reports the outcome back to the requesting session,
// rather than blocking that session's dispatch loop for the minutes a
// full RFC 8555 exchange can take.
func (s *Server) provisionACME(listenerName string, hosts []string, requester *adminSession) {
	s.mu.Lock()
	p := s.provisioner
	s.mu.Unlock()
	if p == nil {
		requester.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{
			Success: false, Reason: "ACME provisioning is not configured",
		})
		return
	}
	entry, err := p(hosts)
	if err != nil {
		requester.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: false, Reason: err.Error()})
		return
	}
	s.certs.Set(listenerName, entry)
	s.broadcast(adminproto.TagChangeNotification, adminproto.ChangeNotification{Kind: "cert"})
	requester.send(adminproto.TagCertInfo, entry.ToProto())
}
