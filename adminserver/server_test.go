package adminserver

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpd/adminproto"
	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/ftpserver"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	settings := config.Settings{
		Version: config.CurrentVersion,
		Admin:   config.AdminConfig{Username: "root", PasswordHash: string(hash)},
	}
	return NewServer(t.TempDir()+"/settings.xml", settings, nil, nil)
}

func TestCheckCredentials(t *testing.T) {
	s := newTestServer(t)
	if !s.checkCredentials("root", "s3cret") {
		t.Error("expected the configured admin credentials to check out")
	}
	if s.checkCredentials("root", "wrong") {
		t.Error("expected a wrong password to be rejected")
	}
	if s.checkCredentials("nobody", "s3cret") {
		t.Error("expected an unknown username to be rejected")
	}
}

func TestMarshalApplySettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	raw, err := s.marshalSettings()
	if err != nil {
		t.Fatalf("marshalSettings: %v", err)
	}

	if err := s.applySettings(raw); err != nil {
		t.Fatalf("applySettings: %v", err)
	}
	s.mu.Lock()
	got := s.settings.Admin.Username
	s.mu.Unlock()
	if got != "root" {
		t.Errorf("Admin.Username after round trip = %q, want %q", got, "root")
	}
}

func TestApplySettingsRejectsInvalidXML(t *testing.T) {
	s := newTestServer(t)
	if err := s.applySettings([]byte("not xml")); err == nil {
		t.Error("expected an error for malformed configuration XML")
	}
}

type fakeRegisteredSession struct {
	info   adminproto.SessionInfo
	kicked bool
}

func (f *fakeRegisteredSession) Info() adminproto.SessionInfo { return f.info }
func (f *fakeRegisteredSession) Kick()                        { f.kicked = true }

func TestListAndKickSessionsAggregatesAcrossListeners(t *testing.T) {
	s := newTestServer(t)

	regA := ftpserver.NewSessionRegistry()
	regB := ftpserver.NewSessionRegistry()
	s.RegisterListener("ftp-plain", regA)
	s.RegisterListener("ftp-tls", regB)

	fake := &fakeRegisteredSession{info: adminproto.SessionInfo{ID: "abc", User: "alice"}}
	regA.Add("abc", fake)
	regB.Add("def", &fakeRegisteredSession{info: adminproto.SessionInfo{ID: "def", User: "bob"}})
	defer regA.Remove("abc")
	defer regB.Remove("def")

	sessions := s.listSessions()
	if len(sessions) != 2 {
		t.Fatalf("listSessions returned %d entries, want 2", len(sessions))
	}

	s.kickSession("abc")
	if !fake.kicked {
		t.Error("expected kickSession to reach the session registered under its listener")
	}
}
