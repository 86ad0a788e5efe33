package adminclient_test

import (
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpd/acmecert"
	"github.com/gonzalop/ftpd/adminclient"
	"github.com/gonzalop/ftpd/adminserver"
	"github.com/gonzalop/ftpd/config"
)

func newPipedServer(t *testing.T, settings config.Settings) *adminclient.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	srv := adminserver.NewServer(t.TempDir()+"/settings.xml", settings, acmecert.NewStore(), nil)
	go srv.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return adminclient.NewClient(clientConn)
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	return config.Settings{
		Version: config.CurrentVersion,
		Admin:   config.AdminConfig{Username: "root", PasswordHash: string(hash)},
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "wrong"); err == nil {
		t.Fatal("expected login with a wrong password to fail")
	}
}

func TestLoginAndConfigRoundTrip(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	raw, err := c.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("GetConfig returned an empty document")
	}

	if err := c.SetConfig(raw); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
}

func TestSetConfigRejectsInvalidXML(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := c.SetConfig([]byte("not xml")); err == nil {
		t.Fatal("expected SetConfig to reject malformed XML")
	}
}

func TestListSessionsEmptyBeforeAnyListenerRegisters(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	sessions, err := c.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("ListSessions = %d entries, want 0", len(sessions))
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	info, err := c.GenerateSelfSignedCert("ftp-tls", []string{"ftp.example.test"})
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	if info.Fingerprint == "" {
		t.Error("expected a non-empty certificate fingerprint")
	}

	got, err := c.GetCertInfo("ftp-tls")
	if err != nil {
		t.Fatalf("GetCertInfo: %v", err)
	}
	if got.Fingerprint != info.Fingerprint {
		t.Errorf("GetCertInfo fingerprint = %q, want %q", got.Fingerprint, info.Fingerprint)
	}
}

func TestNotificationsDeliveredOnConfigChange(t *testing.T) {
	c := newPipedServer(t, testSettings(t))
	defer c.Close()

	if err := c.Login("root", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	raw, err := c.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if err := c.SetConfig(raw); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	select {
	case n := <-c.Notifications():
		if n.Kind != "config" {
			t.Errorf("notification kind = %q, want %q", n.Kind, "config")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a config change_notification")
	}
}
