package ftpserver

import (
	"net/netip"
	"time"

	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/tvfs"
)

func (s *session) handleUSER(arg string) {
	if arg == "" {
		s.reply(501, "USER requires a name.")
		return
	}
	s.mu.Lock()
	s.authUser = arg
	s.isLoggedIn = false
	s.mu.Unlock()
	s.reply(331, "Password required.")
}

func (s *session) handlePASS(arg string) {
	s.mu.Lock()
	user := s.authUser
	s.mu.Unlock()
	if user == "" {
		s.reply(503, "Login with USER first.")
		return
	}

	start := time.Now()
	var sess, err = s.server.auth.VerifyNone(user)
	if arg != "" {
		sess, err = s.server.auth.VerifyPassword(user, arg)
	}
	if err != nil {
		if s.server.autoban != nil {
			if ip, perr := netip.ParseAddr(s.remoteIP); perr == nil {
				s.server.autoban.RecordFailure(ip)
			}
		}
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, user)
		}
		s.server.logger.Warn("login failed", "session", s.id, "user", user,
			"remote", s.server.redactIP(s.remoteIP), "elapsed", time.Since(start))
		s.reply(530, "Login incorrect.")
		return
	}

	if s.server.autoban != nil {
		if ip, perr := netip.ParseAddr(s.remoteIP); perr == nil {
			s.server.autoban.RecordSuccess(ip)
		}
	}
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, user)
	}

	table, disabled := buildTable(sess)
	for _, m := range disabled {
		s.server.logger.Warn("mount disabled: could not autocreate", "session", s.id, "mount", m.VirtualPath)
	}

	s.mu.Lock()
	s.authSess = sess
	s.isLoggedIn = true
	s.fs = newSessionFS(table, tvfs.SubstitutionContext{Username: sess.User.Name, Home: sess.User.HomeDir})
	s.mu.Unlock()

	s.server.logger.Info("login", "session", s.id, "user", user, "remote", s.server.redactIP(s.remoteIP))
	s.reply(230, "Login successful.")
}

// buildTable assembles the tvfs.Table a login resolves to, autocreating
// any mount flagged for it and reporting which, if any, had to be
// dropped because their native directory could not be created.
func buildTable(sess auth.Session) (*tvfs.Table, []*tvfs.Mount) {
	t := tvfs.NewTable()
	for _, m := range sess.Config.Mounts {
		_ = t.Add(m) // duplicate virtual paths across user+group mounts are pre-resolved by auth.resolveEffectiveConfig
	}
	sub := tvfs.SubstitutionContext{Username: sess.User.Name, Home: sess.User.HomeDir}
	disabled := t.Autocreate(sub)
	return t, disabled
}
