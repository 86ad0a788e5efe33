// Package tvfs implements the transparent virtual filesystem mount
// resolver of spec.md §4.4: a table of virtual-path-to-native-path
// mounts, each carrying its own access rights and recursion policy,
// queried by longest-prefix match the way a union filesystem is.
package tvfs

import (
	"errors"
	"path"
	"strings"
)

// Access is the bitset of operations a mount grants.
type Access uint32

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessList
	// AccessStructureModification gates create/delete/rename/mkdir/rmdir,
	// named apply_permissions_and_allow_structure_modification in spec.md.
	AccessStructureModification
)

func (a Access) CanRead() bool   { return a&AccessRead != 0 }
func (a Access) CanWrite() bool  { return a&AccessWrite != 0 }
func (a Access) CanList() bool   { return a&AccessList != 0 }
func (a Access) CanModifyStructure() bool {
	return a&AccessStructureModification != 0
}

// Recursion controls whether a mount serves paths strictly below its
// virtual path.
type Recursion int

const (
	// RecurseAll is the default: the mount serves its virtual path and
	// every descendant.
	RecurseAll Recursion = iota
	// RecurseNone means the mount serves only its exact virtual path; a
	// request for a child falls through to the next, shorter-prefix mount.
	RecurseNone
)

// Flags are mount-time behaviors, orthogonal to Access.
type Flags uint32

const (
	// FlagAutocreate creates the native path recursively at load time if
	// it does not already exist; failure to do so disables the mount.
	FlagAutocreate Flags = 1 << iota
)

// Mount is one entry of the table: a virtual path, its native resolution
// template (":u"/":h" substituted per user at resolve time), access
// rights, recursion policy and flags.
type Mount struct {
	VirtualPath string
	NativePath  string // template: may contain ":u" and ":h"
	Access      Access
	Recursion   Recursion
	Flags       Flags

	segments []string // normalized VirtualPath, cached at Add time
}

var (
	// ErrDuplicateMount is returned by Table.Add when two mounts would
	// share the same normalized virtual path.
	ErrDuplicateMount = errors.New("tvfs: duplicate virtual path")
	// ErrNotFound covers every way a lookup can fail to resolve: no
	// covering mount, an escaping ".." after substitution, or a
	// RecurseNone mount asked for a path other than its own.
	ErrNotFound = errors.New("tvfs: path not found")
)

func splitVirtual(p string) []string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

func isPrefix(prefix, full []string) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i, seg := range prefix {
		if full[i] != seg {
			return false
		}
	}
	return true
}
