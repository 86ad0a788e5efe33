package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// ErrLoginFailed is the single wire-visible error for every way a login
// can fail, per spec.md §4.5: "the wire reply collapses all login
// failures to one code". More specific causes are logged, never
// returned to the caller.
var ErrLoginFailed = errors.New("auth: login failed")

var errUnknownUser = errors.New("auth: unknown user")

// Authenticator is the stepped login conversation: NegotiateMethods,
// then Verify (for MethodPassword) or nothing further (for MethodNone).
type Authenticator struct {
	users        map[string]User
	groups       map[string]Group
	impersonator Impersonator
	logger       *slog.Logger
}

// New builds an Authenticator over the given users/groups. logger, if
// nil, defaults to slog.Default().
func New(users []User, groups []Group, impersonator Impersonator, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if impersonator == nil {
		impersonator = DefaultImpersonator()
	}
	um := make(map[string]User, len(users))
	for _, u := range users {
		um[u.Name] = u
	}
	gm := make(map[string]Group, len(groups))
	for _, g := range groups {
		gm[g.Name] = g
	}
	return &Authenticator{users: um, groups: gm, impersonator: impersonator, logger: logger}
}

// NegotiateMethods returns the ordered methods name accepts. A genuinely
// unknown user is reported as accepting MethodPassword, the same as a
// real account would, so a USER probe can't be used to enumerate valid
// account names.
func (a *Authenticator) NegotiateMethods(name string) []Method {
	u, ok := a.users[name]
	if !ok {
		return []Method{MethodPassword}
	}
	if len(u.Methods) == 0 {
		return []Method{MethodPassword}
	}
	return u.Methods
}

// Session is the resolved state of a successful login.
type Session struct {
	User               User
	Config             EffectiveConfig
	ImpersonationToken ImpersonationToken // nil if the user has no ImpersonateAs
}

// VerifyPassword completes a MethodPassword login.
func (a *Authenticator) VerifyPassword(name, password string) (Session, error) {
	u, ok := a.users[name]
	if !ok {
		// Still run bcrypt against a fixed dummy hash so the unknown-user
		// and wrong-password paths take comparable time.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		a.logger.Warn("login failed", "user", name, "cause", errUnknownUser)
		return Session{}, ErrLoginFailed
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		a.logger.Warn("login failed", "user", name, "cause", err)
		return Session{}, ErrLoginFailed
	}
	return a.finishLogin(u)
}

// VerifyNone completes a MethodNone login for a user whose accepted
// methods include "none".
func (a *Authenticator) VerifyNone(name string) (Session, error) {
	u, ok := a.users[name]
	if !ok || !accepts(u.Methods, MethodNone) {
		a.logger.Warn("login failed", "user", name, "cause", errUnknownUser)
		return Session{}, ErrLoginFailed
	}
	return a.finishLogin(u)
}

func (a *Authenticator) finishLogin(u User) (Session, error) {
	cfg := resolveEffectiveConfig(u, a.groups)

	var token ImpersonationToken
	if u.ImpersonateAs != "" {
		t, err := a.impersonator.Acquire(u.ImpersonateAs)
		if err != nil {
			a.logger.Warn("login failed", "user", u.Name,
				"cause", fmt.Errorf("acquiring impersonation token: %w", err))
			return Session{}, ErrLoginFailed
		}
		token = t
	}

	return Session{User: u, Config: cfg, ImpersonationToken: token}, nil
}

func accepts(methods []Method, want Method) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// dummyHash is a valid bcrypt hash of an arbitrary password, used only to
// burn comparable CPU time on the unknown-user path.
var dummyHash = []byte("$2a$10$CwTycUXWue0Thq9StjUM0uJ8Z7x2c0qW1iM8x4zB1VxL5yvzLjYhK")
