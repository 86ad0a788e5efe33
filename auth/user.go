// Package auth implements the stepped login conversation, user/group
// configuration and the OS impersonation contract of spec.md §4.5.
package auth

import (
	"net/netip"

	"github.com/gonzalop/ftpd/tvfs"
)

// Method is an authentication method token a user accepts, in the order
// the server should offer them.
type Method string

const (
	MethodNone     Method = "none"
	MethodPassword Method = "password"
)

// SpeedLimit is one bandwidth cap rule, named after
// gui/speedlimitseditor.cpp's per-rule shape.
type SpeedLimit struct {
	BytesPerSecondIn  int64
	BytesPerSecondOut int64
}

// Limits bounds a user or group's resource usage.
type Limits struct {
	MaxSessionsPerIP int
	SpeedLimits      []SpeedLimit
}

// Filters are the CIDR allow/disallow lists gui/addressinfolisteditor.cpp
// and binaryaddresslisteditor.cpp edit; Disallow wins on overlap, per
// spec.md §4.7.
type Filters struct {
	Allow    []netip.Prefix
	Disallow []netip.Prefix
}

// User is one authentication/authorization principal. PasswordHash is a
// bcrypt hash (empty if the user only accepts MethodNone); Groups names
// the groups whose Mounts/Limits/Filters are unioned in after the user's
// own, with the user's own values winning on conflict.
type User struct {
	Name         string
	Methods      []Method
	PasswordHash []byte
	Groups       []string
	HomeDir      string
	ImpersonateAs string // OS account name, empty if no impersonation needed

	Mounts  []tvfs.Mount
	Limits  Limits
	Filters Filters
}

// Group is a named bundle of Mounts/Limits/Filters a User can reference.
type Group struct {
	Name    string
	Mounts  []tvfs.Mount
	Limits  Limits
	Filters Filters
}

// EffectiveConfig is what a successful login resolves to: the user's
// table/limits/filters unioned with every referenced group's, in
// reference order, user-level values winning conflicts.
type EffectiveConfig struct {
	Mounts  []tvfs.Mount
	Limits  Limits
	Filters Filters
}

func resolveEffectiveConfig(u User, groups map[string]Group) EffectiveConfig {
	cfg := EffectiveConfig{Limits: u.Limits, Filters: u.Filters}

	seen := make(map[string]bool, len(u.Mounts))
	for _, m := range u.Mounts {
		seen[m.VirtualPath] = true
	}
	cfg.Mounts = append(cfg.Mounts, u.Mounts...)

	for _, name := range u.Groups {
		g, ok := groups[name]
		if !ok {
			continue
		}
		for _, m := range g.Mounts {
			if seen[m.VirtualPath] {
				continue // user-level mount at the same virtual path wins
			}
			seen[m.VirtualPath] = true
			cfg.Mounts = append(cfg.Mounts, m)
		}
		if cfg.Limits.MaxSessionsPerIP == 0 {
			cfg.Limits.MaxSessionsPerIP = g.Limits.MaxSessionsPerIP
		}
		if len(cfg.Limits.SpeedLimits) == 0 {
			cfg.Limits.SpeedLimits = g.Limits.SpeedLimits
		}
		if len(cfg.Filters.Allow) == 0 {
			cfg.Filters.Allow = g.Filters.Allow
		}
		if len(cfg.Filters.Disallow) == 0 {
			cfg.Filters.Disallow = g.Filters.Disallow
		}
	}

	return cfg
}
