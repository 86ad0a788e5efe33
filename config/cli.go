package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Process is the process-level configuration a deployment overrides on
// the command line or through FTPD_-prefixed environment variables, kept
// separate from Settings (the XML-persisted accounts/mounts/listeners):
// nabbar-golib's retrieved repo pairs cobra flags with viper exactly this
// way, binding each flag and an equivalent environment variable into one
// viper.Viper, though its own viper wrapper's source wasn't present in
// the retrieval pack to imitate directly.
type Process struct {
	ConfigDir  string
	LogLevel   string
	LogFormat  string
	PidFile    string
}

// BindFlags registers Process's flags on cmd and binds each to viper
// under the matching key, with FTPD_ as the environment variable prefix.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	flags.String("config-dir", "/etc/ftpd", "directory holding settings.xml and certificates")
	flags.String("log-level", "info", "debug, info, warn, or error")
	flags.String("log-format", "text", "text or json")
	flags.String("pid-file", "", "optional pidfile path")

	v.SetEnvPrefix("FTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"config-dir", "log-level", "log-format", "pid-file"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("config: binding flag %s: %w", name, err)
		}
	}
	return nil
}

// ProcessFromViper reads the bound keys back out of v.
func ProcessFromViper(v *viper.Viper) Process {
	return Process{
		ConfigDir: v.GetString("config-dir"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		PidFile:   v.GetString("pid-file"),
	}
}

// SettingsPath is the conventional settings document location under a
// Process's config directory.
func (p Process) SettingsPath() string {
	return p.ConfigDir + "/settings.xml"
}
