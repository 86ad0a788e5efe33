package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/gonzalop/ftpd/auth"
	"github.com/gonzalop/ftpd/tvfs"
)

func toMount(m MountConfig) tvfs.Mount {
	var access tvfs.Access
	if m.Read {
		access |= tvfs.AccessRead
	}
	if m.Write {
		access |= tvfs.AccessWrite
	}
	if m.List {
		access |= tvfs.AccessList
	}
	if m.ModifyStructure {
		access |= tvfs.AccessStructureModification
	}
	recursion := tvfs.RecurseAll
	if m.RecurseNone {
		recursion = tvfs.RecurseNone
	}
	var flags tvfs.Flags
	if m.Autocreate {
		flags |= tvfs.FlagAutocreate
	}
	return tvfs.Mount{
		VirtualPath: m.VirtualPath,
		NativePath:  m.NativePath,
		Access:      access,
		Recursion:   recursion,
		Flags:       flags,
	}
}

func fromMount(m tvfs.Mount) MountConfig {
	return MountConfig{
		VirtualPath:     m.VirtualPath,
		NativePath:      m.NativePath,
		Read:            m.Access.CanRead(),
		Write:           m.Access.CanWrite(),
		List:            m.Access.CanList(),
		ModifyStructure: m.Access.CanModifyStructure(),
		RecurseNone:     m.Recursion == tvfs.RecurseNone,
		Autocreate:      m.Flags&tvfs.FlagAutocreate != 0,
	}
}

func toFilters(allow, disallow []string) (auth.Filters, error) {
	var f auth.Filters
	for _, s := range allow {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return auth.Filters{}, fmt.Errorf("config: parsing allow CIDR %q: %w", s, err)
		}
		f.Allow = append(f.Allow, p)
	}
	for _, s := range disallow {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return auth.Filters{}, fmt.Errorf("config: parsing disallow CIDR %q: %w", s, err)
		}
		f.Disallow = append(f.Disallow, p)
	}
	return f, nil
}

func fromFilters(f auth.Filters) (allow, disallow []string) {
	for _, p := range f.Allow {
		allow = append(allow, p.String())
	}
	for _, p := range f.Disallow {
		disallow = append(disallow, p.String())
	}
	return allow, disallow
}

func toLimits(maxPerIP int, limits []SpeedLimitConfig) auth.Limits {
	l := auth.Limits{MaxSessionsPerIP: maxPerIP}
	for _, s := range limits {
		l.SpeedLimits = append(l.SpeedLimits, auth.SpeedLimit{
			BytesPerSecondIn:  s.BytesPerSecondIn,
			BytesPerSecondOut: s.BytesPerSecondOut,
		})
	}
	return l
}

func fromLimits(l auth.Limits) (int, []SpeedLimitConfig) {
	var out []SpeedLimitConfig
	for _, s := range l.SpeedLimits {
		out = append(out, SpeedLimitConfig{BytesPerSecondIn: s.BytesPerSecondIn, BytesPerSecondOut: s.BytesPerSecondOut})
	}
	return l.MaxSessionsPerIP, out
}

// ToUser converts a persisted UserConfig into the runtime auth.User shape.
func (u UserConfig) ToUser() (auth.User, error) {
	methods := make([]auth.Method, 0, len(u.Methods))
	for _, m := range u.Methods {
		methods = append(methods, auth.Method(m))
	}
	mounts := make([]tvfs.Mount, 0, len(u.Mounts))
	for _, m := range u.Mounts {
		mounts = append(mounts, toMount(m))
	}
	filters, err := toFilters(u.Allow, u.Disallow)
	if err != nil {
		return auth.User{}, fmt.Errorf("config: user %q: %w", u.Name, err)
	}
	return auth.User{
		Name:          u.Name,
		Methods:       methods,
		PasswordHash:  []byte(u.PasswordHash),
		Groups:        u.Groups,
		HomeDir:       u.HomeDir,
		ImpersonateAs: u.ImpersonateAs,
		Mounts:        mounts,
		Limits:        toLimits(u.MaxSessionsPerIP, u.SpeedLimits),
		Filters:       filters,
	}, nil
}

// FromUser converts a runtime auth.User back to its persisted shape.
func FromUser(u auth.User) UserConfig {
	methods := make([]string, 0, len(u.Methods))
	for _, m := range u.Methods {
		methods = append(methods, string(m))
	}
	mounts := make([]MountConfig, 0, len(u.Mounts))
	for _, m := range u.Mounts {
		mounts = append(mounts, fromMount(m))
	}
	allow, disallow := fromFilters(u.Filters)
	maxPerIP, limits := fromLimits(u.Limits)
	return UserConfig{
		Name:             u.Name,
		Methods:          methods,
		PasswordHash:     string(u.PasswordHash),
		Groups:           u.Groups,
		HomeDir:          u.HomeDir,
		ImpersonateAs:    u.ImpersonateAs,
		Mounts:           mounts,
		MaxSessionsPerIP: maxPerIP,
		SpeedLimits:      limits,
		Allow:            allow,
		Disallow:         disallow,
	}
}

// ToGroup converts a persisted GroupConfig into the runtime auth.Group shape.
func (g GroupConfig) ToGroup() (auth.Group, error) {
	mounts := make([]tvfs.Mount, 0, len(g.Mounts))
	for _, m := range g.Mounts {
		mounts = append(mounts, toMount(m))
	}
	filters, err := toFilters(g.Allow, g.Disallow)
	if err != nil {
		return auth.Group{}, fmt.Errorf("config: group %q: %w", g.Name, err)
	}
	return auth.Group{
		Name:    g.Name,
		Mounts:  mounts,
		Limits:  toLimits(g.MaxSessionsPerIP, g.SpeedLimits),
		Filters: filters,
	}, nil
}

// FromGroup converts a runtime auth.Group back to its persisted shape.
func FromGroup(g auth.Group) GroupConfig {
	mounts := make([]MountConfig, 0, len(g.Mounts))
	for _, m := range g.Mounts {
		mounts = append(mounts, fromMount(m))
	}
	allow, disallow := fromFilters(g.Filters)
	maxPerIP, limits := fromLimits(g.Limits)
	return GroupConfig{
		Name:             g.Name,
		Mounts:           mounts,
		MaxSessionsPerIP: maxPerIP,
		SpeedLimits:      limits,
		Allow:            allow,
		Disallow:         disallow,
	}
}

// Filters converts a listener's allow/disallow CIDR lists into the
// runtime shape the listener's accept loop filters against.
func (l ListenerConfig) Filters() (auth.Filters, error) {
	f, err := toFilters(l.AllowCIDRs, l.DisallowCIDRs)
	if err != nil {
		return auth.Filters{}, fmt.Errorf("config: listener %q: %w", l.Name, err)
	}
	return f, nil
}

// AuthUsers converts every persisted user into the runtime auth.User shape.
func (s Settings) AuthUsers() ([]auth.User, error) {
	out := make([]auth.User, 0, len(s.Users))
	for _, u := range s.Users {
		au, err := u.ToUser()
		if err != nil {
			return nil, err
		}
		out = append(out, au)
	}
	return out, nil
}

// AuthGroups converts every persisted group into the runtime auth.Group
// shape, in the slice form auth.New expects.
func (s Settings) AuthGroups() ([]auth.Group, error) {
	out := make([]auth.Group, 0, len(s.Groups))
	for _, g := range s.Groups {
		ag, err := g.ToGroup()
		if err != nil {
			return nil, err
		}
		out = append(out, ag)
	}
	return out, nil
}

// Window and Duration parse AutobanConfig's LoginFailuresWindow and
// BanDuration strings, defaulting to zero (disabled) on empty input.
func (a AutobanConfig) Window() (time.Duration, error) {
	if a.LoginFailuresWindow == "" {
		return 0, nil
	}
	return time.ParseDuration(a.LoginFailuresWindow)
}

func (a AutobanConfig) Duration() (time.Duration, error) {
	if a.BanDuration == "" {
		return 0, nil
	}
	return time.ParseDuration(a.BanDuration)
}
