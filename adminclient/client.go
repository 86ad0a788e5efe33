package adminclient

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/gonzalop/ftpd/adminproto"
)

// Client is one administration connection from the dispatcher's side.
// A Client serializes its own request/response calls: the protocol has
// no request ID to correlate a reply against a specific call, so only
// one call may be outstanding at a time, the same restriction the
// server side imposes on itself by running a single dispatch loop per
// session.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	sender *adminproto.Sender

	callMu sync.Mutex
	respCh chan frame

	notifyCh chan adminproto.ChangeNotification
	logCh    chan adminproto.LogLine

	done    chan struct{}
	readErr error
}

type frame struct {
	tag     adminproto.Tag
	payload []byte
}

// Dial opens a TLS connection to addr and returns a Client ready for
// Login. tlsConfig should at minimum pin the server's certificate or
// its fingerprint; the administration channel carries credentials and
// configuration in the clear otherwise.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("adminclient: dialing %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an already-established connection, for tests and for
// callers that terminate TLS themselves.
func NewClient(conn net.Conn) *Client {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	c := &Client{
		conn:   conn,
		reader: reader,
		writer: writer,
		sender: adminproto.NewSender(writer, adminproto.NewTagSetOf(
			adminproto.TagAdminLogin,
			adminproto.TagAcknowledgeQueueFull,
		)),
		respCh:   make(chan frame, 1),
		notifyCh: make(chan adminproto.ChangeNotification, 16),
		logCh:    make(chan adminproto.LogLine, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close shuts the underlying connection down, unblocking readLoop and
// any call in flight.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Notifications returns the channel change_notification messages arrive
// on. Its buffer is bounded: a notification that arrives while the buffer
// is full is dropped rather than stalling the read loop.
func (c *Client) Notifications() <-chan adminproto.ChangeNotification { return c.notifyCh }

// LogLines returns the channel log_line messages arrive on, once
// subscribed implicitly by a successful Login.
func (c *Client) LogLines() <-chan adminproto.LogLine { return c.logCh }

func (c *Client) readLoop() {
	defer close(c.done)
	maxPayload := adminproto.PreLoginBufferCap
	for {
		tag, payload, err := adminproto.ReadFrame(c.reader, maxPayload)
		if err != nil {
			c.readErr = err
			return
		}
		switch tag {
		case adminproto.TagChangeNotification:
			var n adminproto.ChangeNotification
			if adminproto.UnmarshalPayload(payload, &n) == nil {
				select {
				case c.notifyCh <- n:
				default:
				}
			}
		case adminproto.TagLogLine:
			var l adminproto.LogLine
			if adminproto.UnmarshalPayload(payload, &l) == nil {
				select {
				case c.logCh <- l:
				default:
				}
			}
		case adminproto.TagAcknowledgeQueueFull:
			var ack adminproto.AcknowledgeQueueFull
			if adminproto.UnmarshalPayload(payload, &ack) == nil {
				_ = adminproto.HandleIncomingAcknowledgeQueueFull(ack, c.sender)
			}
		case adminproto.TagAdminLoginResult:
			var res adminproto.AdminLoginResult
			if adminproto.UnmarshalPayload(payload, &res) == nil && res.Success {
				maxPayload = adminproto.PostLoginBufferCap
			}
			c.respCh <- frame{tag, payload}
		default:
			c.respCh <- frame{tag, payload}
		}
	}
}

// call sends req under sendTag, then waits for the next non-pushed frame
// and decodes it into resp, failing if it arrives under a different tag
// than wantTag.
func (c *Client) call(sendTag adminproto.Tag, req any, wantTag adminproto.Tag, resp any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.sender.Send(sendTag, req); err != nil {
		return err
	}
	select {
	case f := <-c.respCh:
		if f.tag != wantTag {
			return fmt.Errorf("adminclient: expected %s response to %s, got %s",
				wantTag.Name(), sendTag.Name(), f.tag.Name())
		}
		if resp == nil {
			return nil
		}
		return adminproto.UnmarshalPayload(f.payload, resp)
	case <-c.done:
		return fmt.Errorf("adminclient: connection closed while awaiting %s: %w", wantTag.Name(), c.readErr)
	}
}

// Login performs admin_login and, on success, allows the remaining
// operational tags for the rest of the connection's life.
func (c *Client) Login(username, password string) error {
	var res adminproto.AdminLoginResult
	if err := c.call(adminproto.TagAdminLogin, adminproto.AdminLogin{Username: username, Password: password},
		adminproto.TagAdminLoginResult, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("adminclient: login rejected: %s", res.Reason)
	}
	for _, t := range []adminproto.Tag{
		adminproto.TagGetConfig, adminproto.TagSetConfig,
		adminproto.TagListSessions, adminproto.TagKickSession,
		adminproto.TagGetCertInfo, adminproto.TagSetCertInfo,
		adminproto.TagGenerateSelfSignedCert,
	} {
		c.sender.Allow(t)
	}
	return nil
}

// GetConfig retrieves the current configuration snapshot as the raw XML
// document adminserver persists and loads.
func (c *Client) GetConfig() ([]byte, error) {
	var snap adminproto.ConfigSnapshot
	if err := c.call(adminproto.TagGetConfig, adminproto.GetConfig{}, adminproto.TagConfigSnapshot, &snap); err != nil {
		return nil, err
	}
	return snap.Raw, nil
}

// SetConfig validates and persists raw as the new configuration.
func (c *Client) SetConfig(raw []byte) error {
	var res adminproto.SetConfigResult
	if err := c.call(adminproto.TagSetConfig, adminproto.SetConfig{Raw: raw}, adminproto.TagSetConfigResult, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("adminclient: set_config rejected: %s", res.Reason)
	}
	return nil
}

// ListSessions retrieves every currently connected FTP session across
// every listener the server manages.
func (c *Client) ListSessions() ([]adminproto.SessionInfo, error) {
	var list adminproto.SessionList
	if err := c.call(adminproto.TagListSessions, adminproto.ListSessions{}, adminproto.TagSessionList, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// KickSession asks the server to disconnect the session with the given
// ID. It is fire-and-forget: the table's change_notification, or a
// follow-up ListSessions, is how a caller confirms the kick took.
func (c *Client) KickSession(id string) error {
	return c.sender.Send(adminproto.TagKickSession, adminproto.KickSession{ID: id})
}

// GetCertInfo retrieves the certificate currently bound to a listener.
func (c *Client) GetCertInfo(listenerName string) (adminproto.CertInfo, error) {
	var info adminproto.CertInfo
	err := c.call(adminproto.TagGetCertInfo, adminproto.GetCertInfo{ListenerName: listenerName},
		adminproto.TagCertInfo, &info)
	return info, err
}

// SetCertInfo installs a certificate on a listener. The reply is always
// either a cert_info on success or a set_config_result on failure,
// whether the request completed inline (user-provided/uploaded
// certificates) or was provisioned asynchronously in the background
// (ACME, which can take minutes): WaitForCertInfo is what actually reads
// the reply for both cases.
func (c *Client) SetCertInfo(msg adminproto.SetCertInfo) (adminproto.CertInfo, error) {
	if err := c.sender.Send(adminproto.TagSetCertInfo, msg); err != nil {
		return adminproto.CertInfo{}, err
	}
	return c.WaitForCertInfo()
}

// WaitForCertInfo blocks for the next cert_info or set_config_result
// frame, the two possible outcomes of set_cert_info and
// generate_selfsigned_cert. It holds callMu for the duration, so no
// other call may run concurrently, mirroring how a single admin session
// can only be mid-request once.
func (c *Client) WaitForCertInfo() (adminproto.CertInfo, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	select {
	case f := <-c.respCh:
		switch f.tag {
		case adminproto.TagCertInfo:
			var info adminproto.CertInfo
			err := adminproto.UnmarshalPayload(f.payload, &info)
			return info, err
		case adminproto.TagSetConfigResult:
			var res adminproto.SetConfigResult
			if err := adminproto.UnmarshalPayload(f.payload, &res); err != nil {
				return adminproto.CertInfo{}, err
			}
			return adminproto.CertInfo{}, fmt.Errorf("adminclient: certificate request failed: %s", res.Reason)
		default:
			return adminproto.CertInfo{}, fmt.Errorf("adminclient: unexpected %s while awaiting certificate result", f.tag.Name())
		}
	case <-c.done:
		return adminproto.CertInfo{}, fmt.Errorf("adminclient: connection closed while awaiting certificate result: %w", c.readErr)
	}
}

// GenerateSelfSignedCert requests a fresh self-signed certificate for a
// listener. Like SetCertInfo, failure comes back as a set_config_result
// rather than a cert_info, so the reply is read through WaitForCertInfo.
func (c *Client) GenerateSelfSignedCert(listenerName string, hostnames []string) (adminproto.CertInfo, error) {
	if err := c.sender.Send(adminproto.TagGenerateSelfSignedCert,
		adminproto.GenerateSelfSignedCert{ListenerName: listenerName, Hostnames: hostnames}); err != nil {
		return adminproto.CertInfo{}, err
	}
	return c.WaitForCertInfo()
}
