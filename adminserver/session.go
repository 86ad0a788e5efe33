package adminserver

import (
	"bufio"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/gonzalop/ftpd/adminproto"
	"github.com/gonzalop/ftpd/logger"
)

// adminSession is one administration connection, from accept to close.
// Login timing, framing, and the sending/dispatching bitsets all follow
// spec.md §4.8 as implemented by the adminproto package; this type only
// supplies the per-tag handlers and the authoritative state they touch.
type adminSession struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	id     string
	logger *slog.Logger

	sender     *adminproto.Sender
	dispatcher *adminproto.Dispatcher

	loggedIn      bool
	logSubscribed bool
	logSinkToken  int
}

func newAdminSession(server *Server, conn net.Conn) *adminSession {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	id := uuid.NewString()

	s := &adminSession{
		server: server,
		conn:   conn,
		reader: reader,
		writer: writer,
		id:     id,
		logger: server.logger.With("admin_session", id),
	}
	s.sender = adminproto.NewSender(writer, adminproto.NewTagSetOf(
		adminproto.TagAdminLoginResult,
		adminproto.TagAcknowledgeQueueFull,
	))
	s.dispatcher = adminproto.NewDispatcher(adminproto.NewTagSetOf(
		adminproto.TagAdminLogin,
		adminproto.TagAcknowledgeQueueFull,
	))
	s.registerHandlers()
	return s
}

func (s *adminSession) registerHandlers() {
	d := s.dispatcher
	d.Register(adminproto.TagAdminLogin, s.handleAdminLogin)
	d.Register(adminproto.TagAcknowledgeQueueFull, s.handleAcknowledgeQueueFull)
	d.Register(adminproto.TagGetConfig, s.handleGetConfig)
	d.Register(adminproto.TagSetConfig, s.handleSetConfig)
	d.Register(adminproto.TagListSessions, s.handleListSessions)
	d.Register(adminproto.TagKickSession, s.handleKickSession)
	d.Register(adminproto.TagGetCertInfo, s.handleGetCertInfo)
	d.Register(adminproto.TagSetCertInfo, s.handleSetCertInfo)
	d.Register(adminproto.TagGenerateSelfSignedCert, s.handleGenerateSelfSignedCert)
}

// serve reads frames until one fails or a handler reports a fatal
// protocol error, exactly the rule spec.md §4.8 sets for unknown or
// disallowed tags.
func (s *adminSession) serve() {
	defer s.close()
	s.logger.Debug("admin session opened")
	for {
		maxPayload := adminproto.PreLoginBufferCap
		if s.loggedIn {
			maxPayload = adminproto.PostLoginBufferCap
		}
		tag, payload, err := adminproto.ReadFrame(s.reader, maxPayload)
		if err != nil {
			return
		}
		if err := s.dispatcher.Dispatch(tag, payload); err != nil {
			s.logger.Warn("admin protocol error", "error", err)
			return
		}
	}
}

func (s *adminSession) close() {
	if s.logSubscribed {
		logger.Root().Detach(s.logSinkToken)
	}
	s.server.removeSession(s.id)
	s.conn.Close()
	s.logger.Debug("admin session closed")
}

func (s *adminSession) send(tag adminproto.Tag, v any) {
	if err := s.sender.Send(tag, v); err != nil {
		s.logger.Warn("admin send failed", "tag", tag.Name(), "error", err)
	}
}
