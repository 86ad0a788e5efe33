// Package config implements the on-disk, XML-persisted configuration of
// spec.md §6 (Persisted state) plus a CLI/environment overlay for
// process-level flags, per SPEC_FULL.md's ambient-stack expansion.
package config

import (
	"encoding/xml"
	"fmt"
	"unicode/utf8"
)

// CurrentVersion is written to every Settings document this build
// produces; Load refuses to start from a document whose Version is
// newer than CurrentVersion (a downgrade would silently drop fields it
// doesn't know about).
const CurrentVersion = 1

// Settings is the whole persisted configuration tree: listeners,
// accounts, and the administration endpoint. It round-trips through XML
// with a checksum attribute (see Checksum) that flags accidental
// hand-edits without pretending to be a security boundary.
type Settings struct {
	XMLName  xml.Name `xml:"ftpd-config"`
	Version  int      `xml:"version,attr"`
	Checksum string   `xml:"checksum,attr,omitempty"`

	Listeners []ListenerConfig `xml:"listener"`
	Admin     AdminConfig      `xml:"admin"`
	Users     []UserConfig     `xml:"user"`
	Groups    []GroupConfig    `xml:"group"`
	Autoban   AutobanConfig    `xml:"autoban"`
	Welcome   WelcomeConfig    `xml:"welcome"`
	ACME      ACMEConfig       `xml:"acme"`
}

// ACMEConfig configures the ACME (RFC 8555) certificate provisioner
// set_cert_info{Kind: ACME} hands a hostname list to. It is process-wide
// rather than per-listener: one account registration and one internal
// HTTP-01 listener serve every listener's certificate requests.
type ACMEConfig struct {
	DirectoryURL  string   `xml:"directory-url,omitempty"`
	Contacts      []string `xml:"contact"`
	ChallengeAddr string   `xml:"challenge-address,omitempty"`
}

// ListenerConfig is one bound FTP listener.
type ListenerConfig struct {
	Name          string   `xml:"name,attr"`
	Address       string   `xml:"address"`
	ImplicitTLS   bool     `xml:"implicit-tls"`
	RequireTLS    bool     `xml:"require-tls"`
	CertRef       string   `xml:"cert-ref"` // keys into acmecert's certificate store
	PasvPortMin   int      `xml:"pasv-port-min,omitempty"`
	PasvPortMax   int      `xml:"pasv-port-max,omitempty"`
	HostOverride  string   `xml:"host-override,omitempty"`
	ProxyProtocol bool     `xml:"proxy-protocol"`
	AllowCIDRs    []string `xml:"allow"`
	DisallowCIDRs []string `xml:"disallow"`

	// SuppressHostOverrideForLocalPeer implements
	// do_not_override_host_if_peer_is_local: HostOverride is not applied to
	// PASV/EPSV replies when the control connection's peer is a loopback or
	// private address, so a client on the same host or LAN still gets a
	// reachable address back.
	SuppressHostOverrideForLocalPeer bool `xml:"do-not-override-host-if-peer-is-local"`
}

// AdminConfig is the administration RPC endpoint of §4.8.
type AdminConfig struct {
	Address      string `xml:"address"`
	CertRef      string `xml:"cert-ref"`
	Username     string `xml:"username"`
	PasswordHash string `xml:"password-hash,omitempty"` // bcrypt, stored as-is (ASCII)
}

// UserConfig is the persisted shape of an auth.User.
type UserConfig struct {
	Name            string          `xml:"name,attr"`
	Methods         []string        `xml:"method"`
	PasswordHash    string          `xml:"password-hash,omitempty"` // bcrypt, base64-free: stored as-is (ASCII)
	Groups          []string        `xml:"group-ref"`
	HomeDir         string          `xml:"home-dir,omitempty"`
	ImpersonateAs   string          `xml:"impersonate-as,omitempty"`
	Mounts          []MountConfig   `xml:"mount"`
	MaxSessionsPerIP int            `xml:"max-sessions-per-ip,omitempty"`
	SpeedLimits     []SpeedLimitConfig `xml:"speed-limit"`
	Allow           []string        `xml:"allow"`
	Disallow        []string        `xml:"disallow"`
}

// GroupConfig is the persisted shape of an auth.Group.
type GroupConfig struct {
	Name             string             `xml:"name,attr"`
	Mounts           []MountConfig      `xml:"mount"`
	MaxSessionsPerIP int                `xml:"max-sessions-per-ip,omitempty"`
	SpeedLimits      []SpeedLimitConfig `xml:"speed-limit"`
	Allow            []string           `xml:"allow"`
	Disallow         []string           `xml:"disallow"`
}

// MountConfig is the persisted shape of a tvfs.Mount.
type MountConfig struct {
	VirtualPath string `xml:"virtual-path,attr"`
	NativePath  string `xml:"native-path"`
	Read        bool   `xml:"read"`
	Write       bool   `xml:"write"`
	List        bool   `xml:"list"`
	ModifyStructure bool `xml:"modify-structure"`
	RecurseNone bool   `xml:"recurse-none,omitempty"`
	Autocreate  bool   `xml:"autocreate,omitempty"`
}

// SpeedLimitConfig is one named speed limit rule
// (gui/speedlimitseditor.cpp's per-rule shape).
type SpeedLimitConfig struct {
	BytesPerSecondIn  int64 `xml:"in"`
	BytesPerSecondOut int64 `xml:"out"`
}

// AutobanConfig configures the listener's autobanner, per spec.md §4.7.
type AutobanConfig struct {
	MaxLoginFailures       int    `xml:"max-login-failures"`
	LoginFailuresWindow    string `xml:"login-failures-time-window"` // parsed with time.ParseDuration
	BanDuration            string `xml:"ban-duration"`
}

// WelcomeConfig is the multi-line banner of spec.md §4.6.
type WelcomeConfig struct {
	Lines []string `xml:"line"`
}

// Validate checks the structural invariants Load doesn't already enforce
// via XML decoding: banner size limits (§4.6) and listener name
// uniqueness.
func (s *Settings) Validate() error {
	var total int
	for i, line := range s.Welcome.Lines {
		if len(line) > 1024 {
			return fmt.Errorf("config: welcome line %d exceeds 1024 bytes", i)
		}
		if !utf8.ValidString(line) {
			offset := invalidUTF8Offset(line)
			return fmt.Errorf("config: welcome line %d is not valid UTF-8 at byte offset %d", i, offset)
		}
		total += len(line)
	}
	if total > 8192 {
		return fmt.Errorf("config: welcome message exceeds 8192 bytes total")
	}

	seen := make(map[string]bool, len(s.Listeners))
	for _, l := range s.Listeners {
		if seen[l.Name] {
			return fmt.Errorf("config: duplicate listener name %q", l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

// invalidUTF8Offset returns the byte offset of the first invalid UTF-8
// encoding in s, assuming utf8.ValidString(s) is already known to be false.
func invalidUTF8Offset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
