//go:build unix

package auth

import (
	"os/user"
	"strconv"
)

// posixToken carries the uid/gid a worker-pool file operation should run
// under; the operation site is responsible for applying it (e.g. via
// syscall.Credential on a *exec.Cmd, or seteuid/setegid around a single
// os call on platforms that allow it per-goroutine, which Go's runtime
// does not support safely — callers instead shell out or reject the
// operation, per spec.md's note that the mechanism is an external
// collaborator).
type posixToken struct {
	UID, GID int
}

func (posixToken) Release() {}

// PosixImpersonator looks accounts up via os/user and hands back their
// uid/gid. It does not itself perform any privilege transition.
type PosixImpersonator struct{}

func (PosixImpersonator) Acquire(account string) (ImpersonationToken, error) {
	u, err := user.Lookup(account)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, err
	}
	return posixToken{UID: uid, GID: gid}, nil
}
