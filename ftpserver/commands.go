package ftpserver

// Predefined command groups for use with WithDisableCommands.
var (
	// LegacyCommands are the deprecated RFC 775 X* aliases.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD", "XMKD", "XRMD"}

	// ActiveModeCommands cover active-mode data connection setup.
	ActiveModeCommands = []string{"PORT", "EPRT"}

	// WriteCommands cover every command that mutates the filesystem.
	WriteCommands = []string{
		"STOR", "APPE", "STOU", "DELE", "RMD", "XRMD", "MKD", "XMKD", "RNFR", "RNTO",
	}

	// SiteCommands cover the SITE administrative command family.
	SiteCommands = []string{"SITE"}
)
