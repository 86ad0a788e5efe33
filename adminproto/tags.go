// Package adminproto implements the administration RPC engine of
// spec.md §4.8: a typed message table, varint tag+length framing over a
// channel, per-tag sending/dispatching bitsets, and the queue-full
// acknowledgement backpressure protocol.
package adminproto

// Tag identifies a message type; it is the compile-time index
// spec.md §4.8 describes, used both as the wire tag and as the index
// into a TagSet.
type Tag uint16

const (
	TagAdminLogin Tag = iota
	TagAdminLoginResult
	TagAcknowledgeQueueFull
	TagGetConfig
	TagConfigSnapshot
	TagSetConfig
	TagSetConfigResult
	TagListSessions
	TagSessionList
	TagKickSession
	TagGetCertInfo
	TagCertInfo
	TagSetCertInfo
	TagGenerateSelfSignedCert
	TagChangeNotification
	TagLogLine

	tagCount // sentinel: number of known tags
)

// Name returns a human-readable name for t, for logging.
func (t Tag) Name() string {
	switch t {
	case TagAdminLogin:
		return "admin_login"
	case TagAdminLoginResult:
		return "admin_login_result"
	case TagAcknowledgeQueueFull:
		return "acknowledge_queue_full"
	case TagGetConfig:
		return "get_config"
	case TagConfigSnapshot:
		return "config_snapshot"
	case TagSetConfig:
		return "set_config"
	case TagSetConfigResult:
		return "set_config_result"
	case TagListSessions:
		return "list_sessions"
	case TagSessionList:
		return "session_list"
	case TagKickSession:
		return "kick_session"
	case TagGetCertInfo:
		return "get_cert_info"
	case TagCertInfo:
		return "cert_info"
	case TagSetCertInfo:
		return "set_cert_info"
	case TagGenerateSelfSignedCert:
		return "generate_selfsigned_cert"
	case TagChangeNotification:
		return "change_notification"
	case TagLogLine:
		return "log_line"
	default:
		return "unknown"
	}
}
