package ftpserver

import (
	"bufio"
	"crypto/tls"
	"strings"
)

func (s *session) handleAUTH(arg string) {
	if strings.ToUpper(arg) != "TLS" {
		s.reply(504, "Only AUTH TLS is supported.")
		return
	}
	if s.server.tlsConfig == nil {
		s.reply(431, "TLS not available.")
		return
	}
	s.mu.Lock()
	if s.tlsEngaged {
		s.mu.Unlock()
		s.reply(234, "Already using TLS.")
		return
	}
	s.mu.Unlock()

	s.reply(234, "AUTH TLS successful, proceed with negotiation.")

	tconn := tls.Server(s.conn, s.server.tlsConfig)
	if err := tconn.Handshake(); err != nil {
		s.server.logger.Warn("TLS handshake failed", "session", s.id, "err", err)
		s.conn.Close()
		return
	}

	s.mu.Lock()
	s.conn = tconn
	s.reader = bufio.NewReader(tconn)
	s.writer = bufio.NewWriter(tconn)
	s.tnet = newTelnetReader(s.reader)
	s.tlsEngaged = true
	s.prot = "P"
	s.mu.Unlock()
}

func (s *session) handlePROT(arg string) {
	switch strings.ToUpper(arg) {
	case "P":
		s.mu.Lock()
		s.prot = "P"
		s.mu.Unlock()
		s.reply(200, "Protection level set to Private.")
	case "C":
		s.mu.Lock()
		s.prot = "C"
		s.mu.Unlock()
		s.reply(200, "Protection level set to Clear.")
	default:
		s.reply(504, "Protection level not supported.")
	}
}

func (s *session) handlePBSZ(arg string) {
	s.reply(200, "PBSZ=0")
}
