package adminserver

import (
	"fmt"
	"log/slog"

	"github.com/gonzalop/ftpd/acmecert"
	"github.com/gonzalop/ftpd/adminproto"
	"github.com/gonzalop/ftpd/logger"
)

func (s *adminSession) handleAdminLogin(payload []byte) error {
	var msg adminproto.AdminLogin
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	if !s.server.checkCredentials(msg.Username, msg.Password) {
		s.send(adminproto.TagAdminLoginResult, adminproto.AdminLoginResult{
			Success: false, Reason: "invalid credentials",
		})
		return fmt.Errorf("adminserver: login failed for %q", msg.Username)
	}

	s.loggedIn = true
	s.dispatcher.Revoke(adminproto.TagAdminLogin)
	for _, t := range []adminproto.Tag{
		adminproto.TagGetConfig, adminproto.TagSetConfig,
		adminproto.TagListSessions, adminproto.TagKickSession,
		adminproto.TagGetCertInfo, adminproto.TagSetCertInfo,
		adminproto.TagGenerateSelfSignedCert,
	} {
		s.dispatcher.Allow(t)
		s.sender.Allow(t)
	}
	s.sender.Allow(adminproto.TagChangeNotification)
	s.sender.Allow(adminproto.TagLogLine)

	s.server.addSession(s.id, s)
	s.logSinkToken = logger.Root().Attach(logger.NewAdminSink(s.sender, slog.LevelInfo, "ftpd"))
	s.logSubscribed = true

	s.send(adminproto.TagAdminLoginResult, adminproto.AdminLoginResult{Success: true})
	return nil
}

func (s *adminSession) handleAcknowledgeQueueFull(payload []byte) error {
	var msg adminproto.AcknowledgeQueueFull
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	return adminproto.HandleIncomingAcknowledgeQueueFull(msg, s.sender)
}

func (s *adminSession) handleGetConfig([]byte) error {
	raw, err := s.server.marshalSettings()
	if err != nil {
		return err
	}
	s.send(adminproto.TagConfigSnapshot, adminproto.ConfigSnapshot{Raw: raw})
	return nil
}

func (s *adminSession) handleSetConfig(payload []byte) error {
	var msg adminproto.SetConfig
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	if err := s.server.applySettings(msg.Raw); err != nil {
		s.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: false, Reason: err.Error()})
		return nil
	}
	s.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: true})
	return nil
}

func (s *adminSession) handleListSessions([]byte) error {
	s.send(adminproto.TagSessionList, adminproto.SessionList{Sessions: s.server.listSessions()})
	return nil
}

func (s *adminSession) handleKickSession(payload []byte) error {
	var msg adminproto.KickSession
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	s.server.kickSession(msg.ID)
	return nil
}

func (s *adminSession) handleGetCertInfo(payload []byte) error {
	var msg adminproto.GetCertInfo
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	entry, _ := s.server.certs.Get(msg.ListenerName)
	s.send(adminproto.TagCertInfo, entry.ToProto())
	return nil
}

func (s *adminSession) handleSetCertInfo(payload []byte) error {
	var msg adminproto.SetCertInfo
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}

	switch msg.Kind {
	case adminproto.CertInfoUserProvided, adminproto.CertInfoUploaded:
		entry, err := acmecert.ParsePEMBundle(msg.Kind, msg.PEMBundle)
		if err != nil {
			s.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: false, Reason: err.Error()})
			return nil
		}
		s.server.certs.Set(msg.ListenerName, entry)
		s.server.broadcast(adminproto.TagChangeNotification, adminproto.ChangeNotification{Kind: "cert"})
		s.send(adminproto.TagCertInfo, entry.ToProto())
	case adminproto.CertInfoACME:
		// Slow and network-bound: runs off this session's dispatch loop,
		// reporting back to this session once the exchange finishes.
		go s.server.provisionACME(msg.ListenerName, msg.ACMEHosts, s)
	default:
		s.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: false, Reason: "unsupported certificate kind"})
	}
	return nil
}

func (s *adminSession) handleGenerateSelfSignedCert(payload []byte) error {
	var msg adminproto.GenerateSelfSignedCert
	if err := adminproto.UnmarshalPayload(payload, &msg); err != nil {
		return err
	}
	entry, err := acmecert.GenerateSelfSigned(msg.Hostnames, defaultSelfSignedValidity)
	if err != nil {
		s.send(adminproto.TagSetConfigResult, adminproto.SetConfigResult{Success: false, Reason: err.Error()})
		return nil
	}
	s.server.certs.Set(msg.ListenerName, entry)
	s.server.broadcast(adminproto.TagChangeNotification, adminproto.ChangeNotification{Kind: "cert"})
	s.send(adminproto.TagCertInfo, entry.ToProto())
	return nil
}
