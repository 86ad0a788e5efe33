package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestSaveLoadRoundTripsAndChecksumMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.xml")

	s := Settings{
		Listeners: []ListenerConfig{{Name: "default", Address: "0.0.0.0:21"}},
		Users: []UserConfig{{
			Name:    "alice",
			Methods: []string{"password"},
			Mounts: []MountConfig{
				{VirtualPath: "/", NativePath: ":h", Read: true, List: true},
			},
		}},
		Welcome: WelcomeConfig{Lines: []string{"welcome"}},
	}

	if err := Save(path, s); err != nil {
		t.Fatal(err)
	}

	got, match, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Fatal("checksum should match right after Save")
	}
	if len(got.Users) != 1 || got.Users[0].Name != "alice" {
		t.Fatalf("got = %+v", got)
	}
	if got.Version != CurrentVersion {
		t.Fatalf("version = %d", got.Version)
	}
}

func TestLoadDetectsTamperedChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.xml")
	if err := Save(path, Settings{Listeners: []ListenerConfig{{Name: "a"}}}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := []byte(string(data) + "\n<!-- hand edit -->\n")
	if err := os.WriteFile(path, edited, 0o600); err != nil {
		t.Fatal(err)
	}

	_, match, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Fatal("expected checksum mismatch after hand edit")
	}
}

func TestValidateRejectsDuplicateListenerNames(t *testing.T) {
	s := Settings{Listeners: []ListenerConfig{{Name: "a"}, {Name: "a"}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected duplicate listener name to be rejected")
	}
}

func TestValidateRejectsOversizedWelcomeMessage(t *testing.T) {
	big := make([]byte, 9000)
	for i := range big {
		big[i] = 'x'
	}
	s := Settings{Welcome: WelcomeConfig{Lines: []string{string(big)}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected oversized welcome message to be rejected")
	}
}

func TestUserConfigRoundTripsThroughAuthUser(t *testing.T) {
	uc := UserConfig{
		Name:    "bob",
		Methods: []string{"password"},
		Mounts: []MountConfig{
			{VirtualPath: "/home", NativePath: "/srv/bob", Read: true, Write: true, List: true},
		},
		Allow: []string{"10.0.0.0/8"},
	}
	u, err := uc.ToUser()
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Mounts) != 1 || !u.Mounts[0].Access.CanWrite() {
		t.Fatalf("mounts = %+v", u.Mounts)
	}
	if len(u.Filters.Allow) != 1 {
		t.Fatalf("filters = %+v", u.Filters)
	}

	back := FromUser(u)
	if back.Name != uc.Name || len(back.Mounts) != 1 || back.Mounts[0].Write != true {
		t.Fatalf("back = %+v", back)
	}
}

func TestAutobanConfigParsesDurations(t *testing.T) {
	a := AutobanConfig{LoginFailuresWindow: "1m", BanDuration: "1h"}
	w, err := a.Window()
	if err != nil || w != time.Minute {
		t.Fatalf("window = %v, %v", w, err)
	}
	d, err := a.Duration()
	if err != nil || d != time.Hour {
		t.Fatalf("duration = %v, %v", d, err)
	}
}

func TestBindFlagsOverlaysEnvironment(t *testing.T) {
	t.Setenv("FTPD_LOG_LEVEL", "debug")

	cmd := &cobra.Command{Use: "ftpd"}
	v := viper.New()
	if err := BindFlags(cmd, v); err != nil {
		t.Fatal(err)
	}

	p := ProcessFromViper(v)
	if p.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug from environment override", p.LogLevel)
	}
	if p.ConfigDir != "/etc/ftpd" {
		t.Fatalf("config dir = %q, want default", p.ConfigDir)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.xml")
	if err := Save(path, Settings{Listeners: []ListenerConfig{{Name: "a"}}}); err != nil {
		t.Fatal(err)
	}

	changed := make(chan Settings, 1)
	w, err := NewWatcher(path, nil, func(s Settings) { changed <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := Save(path, Settings{Listeners: []ListenerConfig{{Name: "b"}}}); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-changed:
		if len(s.Listeners) != 1 || s.Listeners[0].Name != "b" {
			t.Fatalf("reloaded = %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe the rewrite in time")
	}
}
