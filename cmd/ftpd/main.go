// Command ftpd runs the multi-user FTP/FTPS server: one listener per
// configured <listener>, a shared administration RPC endpoint, and the
// ACME certificate provisioner set_cert_info calls into.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gonzalop/ftpd/acmecert"
	"github.com/gonzalop/ftpd/adminserver"
	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/config"
	"github.com/gonzalop/ftpd/ftpserver"
	"github.com/gonzalop/ftpd/internal/eventloop"
	"github.com/gonzalop/ftpd/logger"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "ftpd",
		Short: "multi-user FTP/FTPS server with remote administration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(config.ProcessFromViper(v))
		},
	}
	if err := config.BindFlags(cmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(proc config.Process) error {
	sink, flush, err := logger.NewZapSink(parseLevel(proc.LogLevel), logFormat(proc.LogFormat))
	if err != nil {
		return fmt.Errorf("ftpd: building log sink: %w", err)
	}
	logger.Root().Attach(sink)
	defer flush()
	slog.SetDefault(logger.New(""))

	settingsPath := proc.SettingsPath()
	settings, match, err := config.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("ftpd: loading %s: %w", settingsPath, err)
	}
	if !match {
		slog.Warn("configuration checksum mismatch on startup, file may have been hand-edited", "path", settingsPath)
	}

	if proc.PidFile != "" {
		if err := os.WriteFile(proc.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			slog.Warn("writing pidfile failed", "path", proc.PidFile, "error", err)
		}
		defer os.Remove(proc.PidFile)
	}

	users, err := settings.AuthUsers()
	if err != nil {
		return fmt.Errorf("ftpd: converting configured users: %w", err)
	}
	groups, err := settings.AuthGroups()
	if err != nil {
		return fmt.Errorf("ftpd: converting configured groups: %w", err)
	}
	authn := auth.New(users, groups, nil, logger.New("auth"))

	loop := eventloop.New(0)
	certs := acmecert.NewStore()
	acmeChallengeAddr := settings.ACME.ChallengeAddr
	if acmeChallengeAddr == "" {
		acmeChallengeAddr = ":8080" // HTTP-01 over a reverse-proxied :80 in front of it
	}

	adminSrv := adminserver.NewServer(settingsPath, settings, certs, logger.New("admin"))
	adminSrv.SetProvisioner(func(hostnames []string) (acmecert.Entry, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		p := acmecert.NewProvisioner(acmecert.ProvisionerConfig{
			DirectoryURL:  settings.ACME.DirectoryURL,
			Contacts:      settings.ACME.Contacts,
			ChallengeAddr: acmeChallengeAddr,
			Logger:        logger.New("acme"),
		}, loop)
		return p.ObtainCertificate(ctx, hostnames)
	})

	var servers []*ftpserver.Server
	for _, lc := range settings.Listeners {
		reg := ftpserver.NewSessionRegistry()
		srv, err := buildListener(lc, settings, authn, loop, certs, reg)
		if err != nil {
			return fmt.Errorf("ftpd: configuring listener %q: %w", lc.Name, err)
		}
		adminSrv.RegisterListener(lc.Name, reg)
		servers = append(servers, srv)
	}

	watcher, err := config.NewWatcher(settingsPath, logger.New("config"), func(config.Settings) {
		slog.Warn("settings.xml changed on disk; restart ftpd to apply listener/account changes " +
			"made outside the administration RPC")
	})
	if err != nil {
		slog.Warn("starting configuration file watcher failed", "error", err)
	} else {
		defer watcher.Close()
	}

	var wg sync.WaitGroup
	for i, srv := range servers {
		lc := settings.Listeners[i]
		wg.Add(1)
		go func(lc config.ListenerConfig, srv *ftpserver.Server) {
			defer wg.Done()
			slog.Info("ftp listener starting", "name", lc.Name, "address", lc.Address)
			if err := srv.ListenAndServe(); err != nil && err != ftpserver.ErrServerClosed {
				slog.Error("ftp listener stopped", "name", lc.Name, "error", err)
			}
		}(lc, srv)
	}

	var adminLn net.Listener
	if settings.Admin.Address != "" {
		adminLn, err = net.Listen("tcp", settings.Admin.Address)
		if err != nil {
			return fmt.Errorf("ftpd: binding administration listener on %s: %w", settings.Admin.Address, err)
		}
		adminTLS := certs.TLSConfig(settings.Admin.CertRef, tls.VersionTLS12)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("administration listener starting", "address", settings.Admin.Address)
			if err := adminSrv.Serve(adminLn, adminTLS); err != nil {
				slog.Error("administration listener stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("no administration listener configured; the server cannot be managed remotely")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("listener shutdown did not finish cleanly", "error", err)
		}
	}
	if adminLn != nil {
		adminLn.Close()
	}
	wg.Wait()
	return nil
}

// buildListener translates one config.ListenerConfig into a running
// ftpserver.Option set, sharing authn, loop, and certs across every
// listener the process runs.
func buildListener(lc config.ListenerConfig, settings config.Settings, authn *auth.Authenticator,
	loop *eventloop.Loop, certs *acmecert.Store, reg *ftpserver.SessionRegistry) (*ftpserver.Server, error) {

	filters, err := lc.Filters()
	if err != nil {
		return nil, err
	}
	window, err := settings.Autoban.Window()
	if err != nil {
		return nil, fmt.Errorf("parsing autoban window: %w", err)
	}
	banDuration, err := settings.Autoban.Duration()
	if err != nil {
		return nil, fmt.Errorf("parsing autoban duration: %w", err)
	}

	opts := []ftpserver.Option{
		ftpserver.WithAuthenticator(authn),
		ftpserver.WithEventLoop(loop),
		ftpserver.WithName(lc.Name),
		ftpserver.WithLogger(logger.New("ftp." + lc.Name)),
		ftpserver.WithRegistry(reg),
		ftpserver.WithImplicitTLS(lc.ImplicitTLS),
		ftpserver.WithRequireTLS(lc.RequireTLS),
		ftpserver.WithFilters(filters.Allow, filters.Disallow),
		ftpserver.WithAutoban(settings.Autoban.MaxLoginFailures, window, banDuration),
		ftpserver.WithWelcomeMessage(settings.Welcome.Lines),
		ftpserver.WithPasvPortRange(lc.PasvPortMin, lc.PasvPortMax),
	}
	if lc.HostOverride != "" {
		opts = append(opts, ftpserver.WithPublicHost(lc.HostOverride))
		if lc.SuppressHostOverrideForLocalPeer {
			opts = append(opts, ftpserver.WithSuppressHostOverrideForLocalPeer(true))
		}
	}
	if lc.CertRef != "" {
		opts = append(opts, ftpserver.WithTLS(certs.TLSConfig(lc.CertRef, tls.VersionTLS12)))
	}

	return ftpserver.NewServer(lc.Address, opts...)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func logFormat(s string) string {
	if s == "text" {
		return "console"
	}
	return "json"
}
