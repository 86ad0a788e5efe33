package ftpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// ErrServerClosed is returned by Serve after a call to Shutdown.
var ErrServerClosed = errors.New("ftpserver: server closed")

// Server runs one FTP listener: accept loop, login, and the full
// command set wired directly against an auth.Authenticator and a
// tvfs.Table resolved per session. Unlike the driver-based ancestor this
// package replaces, there is no pluggable storage backend.
type Server struct {
	addr string

	auth *auth.Authenticator
	loop *eventloop.Loop
	name string

	tlsConfig   *tls.Config
	implicitTLS bool
	requireTLS  bool

	allow, disallow []netip.Prefix
	autoban         *autobanner
	registry        *SessionRegistry

	logger *slog.Logger

	maxIdleTime                        time.Duration
	readTimeout, writeTimeout          time.Duration
	maxConnections, maxConnectionsPerIP int

	disableMLSD      bool
	enableDirMessage bool
	welcomeLines     []string
	serverName       string

	pathRedactor PathRedactor
	redactIPs    bool

	metricsCollector MetricsCollector
	transferLog      io.Writer

	bandwidthLimitGlobal  int64
	bandwidthLimitPerUser int64
	globalLimiter         *ratelimit.Limiter

	pasvMinPort, pasvMaxPort         int
	publicHost                       string
	suppressHostOverrideForLocalPeer bool
	listenerFactory                  ListenerFactory
	nextPassivePort                  int32

	disabledCommands map[string]bool

	activeConns atomic.Int32
	connsByIPMu sync.Mutex
	connsByIP   map[string]int32

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// NewServer builds a Server listening on addr, applying each option in
// order. WithAuthenticator and WithEventLoop are required.
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:                addr,
		logger:              slog.Default(),
		serverName:          "UNIX Type: L8",
		maxConnections:      0,
		maxConnectionsPerIP: 0,
		connsByIP:           make(map[string]int32),
		conns:               make(map[net.Conn]struct{}),
		listenerFactory:     DefaultListenerFactory{},
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("ftpserver: applying option: %w", err)
		}
	}
	if s.auth == nil {
		return nil, errors.New("ftpserver: WithAuthenticator is required")
	}
	if s.loop == nil {
		return nil, errors.New("ftpserver: WithEventLoop is required")
	}
	if s.bandwidthLimitGlobal > 0 {
		s.globalLimiter = ratelimit.New(s.bandwidthLimitGlobal)
	}
	return s, nil
}

// ListenAndServe is a convenience wrapper around Serve for the common
// case of listening on s.addr directly.
func (s *Server) ListenAndServe() error {
	network := "tcp"
	ln, err := net.Listen(network, s.addr)
	if err != nil {
		return err
	}
	if s.implicitTLS {
		if s.tlsConfig == nil {
			ln.Close()
			return errors.New("ftpserver: implicit TLS requires WithTLS")
		}
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown is called or Accept
// fails. Each accepted connection is handled in its own goroutine and
// runs the blocking command loop of session.serve.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting new connections and waits up to ctx's
// deadline for in-flight sessions to finish, force-closing whatever
// remains when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.activeConns.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for c := range s.conns {
				c.Close()
			}
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteIP := ipFromAddr(conn.RemoteAddr())

	if s.autoban != nil && remoteIP.IsValid() && s.autoban.Banned(remoteIP) {
		s.recordConnection(false, "banned")
		conn.Close()
		return
	}
	if remoteIP.IsValid() && !filterAllows(remoteIP, s.allow, s.disallow) {
		s.recordConnection(false, "filtered")
		conn.Close()
		return
	}
	if !s.trackConnection(conn, true) {
		s.recordConnection(false, "connection_limit")
		fmt.Fprintf(conn, "421 Too many connections, please try again later.\r\n")
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)
	s.recordConnection(true, "")

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sess := newSession(s, conn)
	sess.serve()
}

func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	if add {
		if s.maxConnections > 0 && int(s.activeConns.Load()) >= s.maxConnections {
			return false
		}
		ip := hostFromAddr(conn.RemoteAddr())
		if s.maxConnectionsPerIP > 0 {
			s.connsByIPMu.Lock()
			n := s.connsByIP[ip]
			if int(n) >= s.maxConnectionsPerIP {
				s.connsByIPMu.Unlock()
				return false
			}
			s.connsByIP[ip] = n + 1
			s.connsByIPMu.Unlock()
		}
		s.activeConns.Add(1)
		return true
	}

	s.activeConns.Add(-1)
	ip := hostFromAddr(conn.RemoteAddr())
	s.connsByIPMu.Lock()
	if n := s.connsByIP[ip]; n > 1 {
		s.connsByIP[ip] = n - 1
	} else {
		delete(s.connsByIP, ip)
	}
	s.connsByIPMu.Unlock()
	return true
}

func (s *Server) recordConnection(accepted bool, reason string) {
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(accepted, reason)
	}
}

func hostFromAddr(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func ipFromAddr(addr net.Addr) netip.Addr {
	host := hostFromAddr(addr)
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}

// redactPath applies the server's PathRedactor, if one was configured.
func (s *Server) redactPath(p string) string {
	if s.pathRedactor == nil {
		return p
	}
	return s.pathRedactor(p)
}

// redactIP drops the last octet/group of addr for logging when
// WithRedactIPs is enabled.
func (s *Server) redactIP(addr string) string {
	if !s.redactIPs {
		return addr
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		if ip.Is4() || ip.Is4In6() {
			parts := strings.Split(ip.Unmap().String(), ".")
			if len(parts) == 4 {
				parts[3] = "x"
				return strings.Join(parts, ".")
			}
		} else {
			parts := strings.Split(ip.String(), ":")
			if len(parts) > 1 {
				parts[len(parts)-1] = "x"
				return strings.Join(parts, ":")
			}
		}
	}
	return addr
}
