package adminproto

import "net/netip"

// AdminLogin is the first message either side may send pre-login.
type AdminLogin struct {
	Username string
	Password string
}

// AdminLoginResult answers AdminLogin.
type AdminLoginResult struct {
	Success bool
	Reason  string `cbor:",omitempty"`
}

// AcknowledgeQueueFull is sent when the outbound serialized buffer
// crosses its warning threshold; the peer must echo it with
// Success: true before the sender resumes, per spec.md §4.8.
type AcknowledgeQueueFull struct {
	Success bool
}

// GetConfig requests the current configuration snapshot.
type GetConfig struct{}

// ConfigSnapshot is the authoritative configuration, as understood by
// adminserver, serialized for the wire.
type ConfigSnapshot struct {
	Raw []byte // XML-serialized config.Settings
}

// SetConfig requests a configuration mutation.
type SetConfig struct {
	Raw []byte // XML document to validate and persist
}

// SetConfigResult answers SetConfig.
type SetConfigResult struct {
	Success bool
	Reason  string `cbor:",omitempty"`
}

// ListSessions requests the current session table.
type ListSessions struct{}

// SessionInfo is one row of SessionList.
type SessionInfo struct {
	ID         string
	User       string
	RemoteAddr string
	OpenFiles  []string
}

// SessionList answers ListSessions.
type SessionList struct {
	Sessions []SessionInfo
}

// KickSession requests a session be disconnected.
type KickSession struct {
	ID string
}

// GetCertInfo requests the certificate bound to a listener.
type GetCertInfo struct {
	ListenerName string
}

// CertInfoKind distinguishes the four certificate sourcing mechanisms of
// spec.md §4.9/§6.
type CertInfoKind int

const (
	CertInfoUserProvided CertInfoKind = iota
	CertInfoAutoGenerated
	CertInfoUploaded
	CertInfoACME
)

// CertInfo answers GetCertInfo and is also the payload of
// change_notification for certificate changes.
type CertInfo struct {
	Kind        CertInfoKind
	Fingerprint string // "sha256:" + hex, per §6 Certificate formats
	NotAfter    string // RFC3339
	Hostnames   []string
}

// SetCertInfo installs a certificate.
type SetCertInfo struct {
	ListenerName string
	Kind         CertInfoKind
	PEMBundle    []byte `cbor:",omitempty"` // CertInfoUserProvided / CertInfoUploaded
	ACMEHosts    []string `cbor:",omitempty"` // CertInfoACME
}

// GenerateSelfSignedCert requests a fresh self-signed certificate.
type GenerateSelfSignedCert struct {
	ListenerName string
	Hostnames    []string
}

// ChangeNotification broadcasts that some part of the configuration
// changed, so subscribed administration sessions can refresh.
type ChangeNotification struct {
	Kind string // "config", "cert", "session"
}

// LogLine fans a log record to a subscribed administration session.
type LogLine struct {
	Level   string
	Message string
	Source  string
}

// AddressPrefixList is the wire shape of a Filters.Allow/Disallow field.
type AddressPrefixList []netip.Prefix
