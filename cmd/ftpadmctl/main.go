// Command ftpadmctl is a thin CLI over the administration RPC engine:
// one subcommand per adminproto operation, authenticating with
// admin_login before issuing the requested call.
package main

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpd/adminclient"
	"github.com/gonzalop/ftpd/adminproto"
)

var (
	flagAddr               string
	flagUsername           string
	flagPassword           string
	flagInsecureSkipVerify bool
)

func main() {
	root := &cobra.Command{
		Use:   "ftpadmctl",
		Short: "administer a running ftpd over its administration RPC endpoint",
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr", "localhost:2221", "administration endpoint host:port")
	root.PersistentFlags().StringVar(&flagUsername, "username", "", "administration username")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "administration password")
	root.PersistentFlags().BoolVar(&flagInsecureSkipVerify, "insecure-skip-verify", false,
		"skip TLS certificate verification (testing only)")

	root.AddCommand(
		getConfigCmd(),
		setConfigCmd(),
		listSessionsCmd(),
		kickSessionCmd(),
		getCertCmd(),
		setCertCmd(),
		generateSelfSignedCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect() (*adminclient.Client, error) {
	c, err := adminclient.Dial(flagAddr, &tls.Config{InsecureSkipVerify: flagInsecureSkipVerify})
	if err != nil {
		return nil, err
	}
	if err := c.Login(flagUsername, flagPassword); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func getConfigCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get-config",
		Short: "fetch the running configuration as XML",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			raw, err := c.GetConfig()
			if err != nil {
				return err
			}
			if out == "" {
				_, err := os.Stdout.Write(raw)
				return err
			}
			return os.WriteFile(out, raw, 0o600)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the configuration to this file instead of stdout")
	return cmd
}

func setConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-config <file>",
		Short: "validate and install a configuration document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.SetConfig(raw)
		},
	}
	return cmd
}

func listSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-sessions",
		Short: "list every connected FTP session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			sessions, err := c.ListSessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\tuser=%s\tremote=%s\topen_files=%d\n", s.ID, s.User, s.RemoteAddr, len(s.OpenFiles))
			}
			return nil
		},
	}
}

func kickSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kick-session <id>",
		Short: "disconnect a session by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.KickSession(args[0])
		},
	}
}

func getCertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-cert <listener>",
		Short: "show the certificate bound to a listener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.GetCertInfo(args[0])
			if err != nil {
				return err
			}
			printCertInfo(info)
			return nil
		},
	}
}

func setCertCmd() *cobra.Command {
	var pemFile string
	var acmeHosts []string
	var uploaded bool
	cmd := &cobra.Command{
		Use:   "set-cert <listener>",
		Short: "install a certificate on a listener, from a PEM bundle or via ACME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := adminproto.SetCertInfo{ListenerName: args[0]}
			switch {
			case len(acmeHosts) > 0:
				msg.Kind = adminproto.CertInfoACME
				msg.ACMEHosts = acmeHosts
			case pemFile != "":
				raw, err := os.ReadFile(pemFile)
				if err != nil {
					return err
				}
				msg.PEMBundle = raw
				if uploaded {
					msg.Kind = adminproto.CertInfoUploaded
				} else {
					msg.Kind = adminproto.CertInfoUserProvided
				}
			default:
				return fmt.Errorf("ftpadmctl: one of --pem or --acme-host is required")
			}

			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.SetCertInfo(msg)
			if err != nil {
				return err
			}
			printCertInfo(info)
			return nil
		},
	}
	cmd.Flags().StringVar(&pemFile, "pem", "", "path to a PEM bundle (certificate chain + private key)")
	cmd.Flags().BoolVar(&uploaded, "uploaded", false, "mark the PEM bundle as administrator-uploaded rather than externally provided")
	cmd.Flags().StringSliceVar(&acmeHosts, "acme-host", nil, "obtain a certificate from ACME for this hostname (repeatable)")
	return cmd
}

func generateSelfSignedCmd() *cobra.Command {
	var hostnames []string
	cmd := &cobra.Command{
		Use:   "generate-selfsigned-cert <listener>",
		Short: "generate and install a fresh self-signed certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.GenerateSelfSignedCert(args[0], hostnames)
			if err != nil {
				return err
			}
			printCertInfo(info)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&hostnames, "hostname", nil, "hostname the certificate should cover (repeatable)")
	return cmd
}

func printCertInfo(info adminproto.CertInfo) {
	fmt.Printf("fingerprint: %s\nnot_after:   %s\nhostnames:   %v\n", info.Fingerprint, info.NotAfter, info.Hostnames)
}
