package ftpserver

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const dataConnTimeout = 10 * time.Second

// connData returns the data connection for the transfer about to start,
// dialing out for active mode or accepting on the listener PASV/EPSV
// opened earlier.
func (s *session) connData() (net.Conn, error) {
	s.mu.Lock()
	pasv := s.pasvList
	activeIP, activePort := s.activeIP, s.activePort
	s.mu.Unlock()

	var conn net.Conn
	var err error
	if pasv != nil {
		pasv.SetDeadline(time.Now().Add(dataConnTimeout))
		conn, err = pasv.Accept()
	} else if activeIP != "" {
		d := net.Dialer{Timeout: dataConnTimeout}
		conn, err = d.Dial("tcp", net.JoinHostPort(activeIP, strconv.Itoa(activePort)))
	} else {
		return nil, fmt.Errorf("ftpserver: no data connection requested")
	}
	if err != nil {
		return nil, err
	}
	conn, err = s.wrapDataConn(conn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.dataConn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	s.mu.Lock()
	prot := s.prot
	tlsConfig := s.server.tlsConfig
	s.mu.Unlock()

	if prot == "P" && tlsConfig != nil {
		tconn := tls.Server(conn, tlsConfig)
		if err := tconn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tconn
	}
	if s.server.readTimeout > 0 || s.server.writeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(maxDuration(s.server.readTimeout, s.server.writeTimeout)))
	}
	return conn, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func (s *session) closeDataConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataConn != nil {
		s.dataConn.Close()
		s.dataConn = nil
	}
	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}
	s.activeIP = ""
	s.activePort = 0
}

// validateActiveIP rejects PORT/EPRT targets outside the control
// connection's own address, the standard defense against FTP bounce
// attacks.
func (s *session) validateActiveIP(ip string) bool {
	host := hostFromAddr(s.conn.RemoteAddr())
	return ip == host
}

func (s *session) listenPassive() (net.Listener, int, error) {
	if s.server.pasvMinPort > 0 && s.server.pasvMaxPort >= s.server.pasvMinPort {
		span := int32(s.server.pasvMaxPort-s.server.pasvMinPort) + 1
		for i := int32(0); i < span; i++ {
			port := s.server.pasvMinPort + int(atomic.AddInt32(&s.server.nextPassivePort, 1)-1)%int(span)
			ln, err := s.server.listenerFactory.Listen("tcp", fmt.Sprintf(":%d", port))
			if err == nil {
				return ln, port, nil
			}
		}
		return nil, 0, fmt.Errorf("ftpserver: no free passive port in range")
	}
	ln, err := s.server.listenerFactory.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, err
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *session) handlePASV(arg string) {
	ln, port, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.mu.Lock()
	s.pasvList = ln
	s.mu.Unlock()

	host := s.publicHost()
	ip := net.ParseIP(host).To4()
	if ip == nil {
		s.reply(425, "Can't open passive connection.")
		ln.Close()
		return
	}
	p1, p2 := port>>8, port&0xFF
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], p1, p2))
}

func (s *session) handleEPSV(arg string) {
	ln, port, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.mu.Lock()
	s.pasvList = ln
	s.mu.Unlock()
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|).", port))
}

func (s *session) publicHost() string {
	if s.server.publicHost != "" && !s.peerIsLocal() {
		return s.resolvePublicHost()
	}
	host := hostFromAddr(s.conn.LocalAddr())
	return host
}

// peerIsLocal reports whether the control connection's peer is a
// loopback or private address, per do_not_override_host_if_peer_is_local;
// it only suppresses the override when the listener opted in.
func (s *session) peerIsLocal() bool {
	if !s.server.suppressHostOverrideForLocalPeer {
		return false
	}
	ip := ipFromAddr(s.conn.RemoteAddr())
	return ip.IsValid() && (ip.IsLoopback() || ip.IsPrivate())
}

func (s *session) resolvePublicHost() string {
	s.mu.Lock()
	if s.lastPublicHost == s.server.publicHost && s.resolvedIP != "" {
		ip := s.resolvedIP
		s.mu.Unlock()
		return ip
	}
	s.mu.Unlock()

	ip := s.server.publicHost
	if addrs, err := net.LookupHost(s.server.publicHost); err == nil && len(addrs) > 0 {
		ip = addrs[0]
	}
	s.mu.Lock()
	s.lastPublicHost = s.server.publicHost
	s.resolvedIP = ip
	s.mu.Unlock()
	return ip
}

func (s *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Invalid PORT syntax.")
		return
	}
	ip := strings.Join(parts[:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		s.reply(501, "Invalid PORT syntax.")
		return
	}
	if !s.validateActiveIP(ip) {
		s.reply(501, "PORT rejected: address mismatch.")
		return
	}
	s.mu.Lock()
	s.activeIP = ip
	s.activePort = p1<<8 | p2
	s.pasvList = nil
	s.mu.Unlock()
	s.reply(200, "PORT command successful.")
}

func (s *session) handleEPRT(arg string) {
	if len(arg) < 3 {
		s.reply(501, "Invalid EPRT syntax.")
		return
	}
	delim := arg[0:1]
	fields := strings.Split(strings.Trim(arg, delim), delim)
	if len(fields) != 3 {
		s.reply(501, "Invalid EPRT syntax.")
		return
	}
	proto, host, portStr := fields[0], fields[1], fields[2]
	if proto != "1" && proto != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.reply(501, "Invalid EPRT syntax.")
		return
	}
	if proto == "1" && !s.validateActiveIP(host) {
		s.reply(501, "EPRT rejected: address mismatch.")
		return
	}
	s.mu.Lock()
	s.activeIP = host
	s.activePort = port
	s.pasvList = nil
	s.mu.Unlock()
	s.reply(200, "EPRT command successful.")
}

func (s *session) handleREST(arg string) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n < 0 {
		s.reply(501, "Invalid REST argument.")
		return
	}
	s.mu.Lock()
	s.restartOffset = n
	s.mu.Unlock()
	s.reply(350, "Restarting at given offset.")
}

func (s *session) handleABOR(arg string) {
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()
	s.reply(226, "ABOR command successful.")
}
