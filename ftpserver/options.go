package ftpserver

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/internal/eventloop"
)

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithAuthenticator sets the login backend. Required.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(s *Server) error {
		s.auth = a
		return nil
	}
}

// WithEventLoop shares an already-running eventloop.Loop across several
// listeners instead of each Server starting its own worker pool.
// Required: transfers route their socket I/O through it.
func WithEventLoop(loop *eventloop.Loop) Option {
	return func(s *Server) error {
		s.loop = loop
		return nil
	}
}

// WithName tags the listener for logging, metrics and administration.
func WithName(name string) Option {
	return func(s *Server) error {
		s.name = name
		return nil
	}
}

// WithTLS configures the certificate used both for explicit AUTH TLS
// upgrades and, if WithImplicitTLS is also set, for the listener itself.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConfig = config
		return nil
	}
}

// WithImplicitTLS wraps the listener itself in TLS (legacy port 990
// style) instead of waiting for AUTH TLS.
func WithImplicitTLS(enabled bool) Option {
	return func(s *Server) error {
		s.implicitTLS = enabled
		return nil
	}
}

// WithRequireTLS rejects USER/PASS and every other command but
// AUTH/FEAT/HELP/QUIT with 534 until the session is TLS-protected, per
// spec.md §4.6.
func WithRequireTLS(required bool) Option {
	return func(s *Server) error {
		s.requireTLS = required
		return nil
	}
}

// WithFilters sets the listener's CIDR allow/disallow lists, evaluated
// before the TLS handshake per spec.md §4.7. A disallowed peer wins on
// overlap with an allowed one.
func WithFilters(allow, disallow []netip.Prefix) Option {
	return func(s *Server) error {
		s.allow = allow
		s.disallow = disallow
		return nil
	}
}

// WithAutoban enables the per-listener failed-login autobanner.
func WithAutoban(maxFailures int, window, banDuration time.Duration) Option {
	return func(s *Server) error {
		if maxFailures > 0 && window > 0 {
			s.autoban = newAutobanner(maxFailures, window, banDuration)
		}
		return nil
	}
}

// WithRegistry publishes every session this server accepts into reg, so
// adminserver can answer list_sessions/kick_session.
func WithRegistry(reg *SessionRegistry) Option {
	return func(s *Server) error {
		s.registry = reg
		return nil
	}
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime bounds how long a control connection may sit idle.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error { s.maxIdleTime = d; return nil }
}

// WithMaxConnections bounds the global and per-IP connection count.
func WithMaxConnections(max, maxPerIP int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		s.maxConnectionsPerIP = maxPerIP
		return nil
	}
}

// WithEnableDirMessage makes CWD send the contents of a ".message" file
// in the destination directory, when present, as extra 250- lines.
func WithEnableDirMessage(enabled bool) Option {
	return func(s *Server) error { s.enableDirMessage = enabled; return nil }
}

// WithDisableMLSD turns off the MLSD command for compatibility testing.
func WithDisableMLSD(disable bool) Option {
	return func(s *Server) error { s.disableMLSD = disable; return nil }
}

// WithWelcomeMessage sets the pre-login banner. See spec.md §4.6 for the
// size limits enforced on the configured text, which this package
// assumes its caller already validated via config.Settings.Validate.
func WithWelcomeMessage(lines []string) Option {
	return func(s *Server) error { s.welcomeLines = lines; return nil }
}

// WithServerName sets the SYST reply text. Defaults to "UNIX Type: L8".
func WithServerName(name string) Option {
	return func(s *Server) error { s.serverName = name; return nil }
}

// WithReadTimeout bounds how long a read on any connection may block.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) error { s.readTimeout = d; return nil }
}

// WithWriteTimeout bounds how long a write on any connection may block.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) error { s.writeTimeout = d; return nil }
}

// WithPathRedactor installs a custom path redaction function for logs.
func WithPathRedactor(r PathRedactor) Option {
	return func(s *Server) error { s.pathRedactor = r; return nil }
}

// WithRedactIPs redacts the last octet/group of logged IP addresses.
func WithRedactIPs(enabled bool) Option {
	return func(s *Server) error { s.redactIPs = enabled; return nil }
}

// WithMetricsCollector attaches a MetricsCollector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(s *Server) error { s.metricsCollector = m; return nil }
}

// WithTransferLog writes completed transfers in xferlog format to w.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error { s.transferLog = w; return nil }
}

// WithBandwidthLimit caps global and per-user throughput, in bytes/sec.
// 0 means unlimited. The stricter of the two applies to any one session.
func WithBandwidthLimit(global, perUser int64) Option {
	return func(s *Server) error {
		s.bandwidthLimitGlobal = global
		s.bandwidthLimitPerUser = perUser
		return nil
	}
}

// WithPasvPortRange restricts passive-mode listeners to [min, max].
// Zero values mean "let the kernel pick an ephemeral port".
func WithPasvPortRange(min, max int) Option {
	return func(s *Server) error {
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// WithPublicHost overrides the address advertised in PASV/EPSV replies,
// for servers behind NAT.
func WithPublicHost(host string) Option {
	return func(s *Server) error { s.publicHost = host; return nil }
}

// WithSuppressHostOverrideForLocalPeer implements
// do_not_override_host_if_peer_is_local: when enabled, a PublicHost
// override is not applied to a session whose control-connection peer is
// a loopback or private address.
func WithSuppressHostOverrideForLocalPeer(enabled bool) Option {
	return func(s *Server) error { s.suppressHostOverrideForLocalPeer = enabled; return nil }
}

// ListenerFactory creates listeners for passive-mode data connections,
// letting a deployment swap in an alternate transport.
type ListenerFactory interface {
	Listen(network, address string) (net.Listener, error)
}

// DefaultListenerFactory dials net.Listen directly.
type DefaultListenerFactory struct{}

func (DefaultListenerFactory) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// WithListenerFactory overrides how passive-mode data listeners are created.
func WithListenerFactory(factory ListenerFactory) Option {
	return func(s *Server) error { s.listenerFactory = factory; return nil }
}

// WithDisableCommands rejects the named commands with 502, regardless of
// login state. See LegacyCommands, ActiveModeCommands, WriteCommands and
// SiteCommands for ready-made groups.
func WithDisableCommands(commands ...string) Option {
	return func(s *Server) error {
		if s.disabledCommands == nil {
			s.disabledCommands = make(map[string]bool)
		}
		for _, c := range commands {
			s.disabledCommands[strings.ToUpper(c)] = true
		}
		return nil
	}
}
