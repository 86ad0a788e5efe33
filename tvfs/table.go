package tvfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SubstitutionContext carries the per-user values ":u" and ":h" expand to
// in a mount's native path template.
type SubstitutionContext struct {
	Username string
	Home     string
}

func (c SubstitutionContext) expand(template string) string {
	r := strings.NewReplacer(":u", c.Username, ":h", c.Home)
	return r.Replace(template)
}

// Table is an immutable-after-Load set of mounts, queried by virtual path.
type Table struct {
	mounts []*Mount
}

// NewTable builds an empty table.
func NewTable() *Table { return &Table{} }

// Add validates and appends m, enforcing the virtual-path uniqueness
// invariant. It does not touch the filesystem; call Autocreate after all
// mounts are added and before serving traffic.
func (t *Table) Add(m Mount) error {
	m.segments = splitVirtual(m.VirtualPath)
	for _, existing := range t.mounts {
		if segEqual(existing.segments, m.segments) {
			return fmt.Errorf("%w: %q", ErrDuplicateMount, m.VirtualPath)
		}
	}
	mc := m
	t.mounts = append(t.mounts, &mc)
	return nil
}

func segEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Autocreate walks every mount with FlagAutocreate and creates its native
// path (after substitution) if missing. A mount whose directory cannot be
// created is disabled (removed from the table) and returned in the
// disabled slice, per spec.md §4.4.
func (t *Table) Autocreate(sub SubstitutionContext) (disabled []*Mount) {
	var kept []*Mount
	for _, m := range t.mounts {
		if m.Flags&FlagAutocreate == 0 {
			kept = append(kept, m)
			continue
		}
		native := sub.expand(m.NativePath)
		if _, err := os.Stat(native); err == nil {
			kept = append(kept, m)
			continue
		}
		if err := os.MkdirAll(native, 0o755); err != nil {
			disabled = append(disabled, m)
			continue
		}
		kept = append(kept, m)
	}
	t.mounts = kept
	return disabled
}

// Resolved is the outcome of resolving a virtual path: the covering
// mount, its effective access rights, and the native filesystem path to
// operate on.
type Resolved struct {
	Mount  *Mount
	Access Access
	Native string
	// Base is the mount's own native root, after substitution: every
	// Native path Resolve returns for this mount lies under it. Callers
	// that want symlink-escape protection (filepath.EvalSymlinks plus a
	// prefix check) compare against this, not against Native itself.
	Base string
}

// Resolve implements the §4.4 algorithm: most-specific mount, recursion
// fallback, native substitution and confinement check.
func (t *Table) Resolve(virtualPath string, sub SubstitutionContext) (Resolved, error) {
	target := splitVirtual(virtualPath)

	candidates := make([]*Mount, 0, len(t.mounts))
	for _, m := range t.mounts {
		if isPrefix(m.segments, target) {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].segments) > len(candidates[j].segments)
	})

	for _, m := range candidates {
		exact := len(m.segments) == len(target)
		if m.Recursion == RecurseNone && !exact {
			continue // not served by this mount; fall through to a shorter prefix
		}

		native, err := resolveNative(m, target, sub)
		if err != nil {
			return Resolved{}, ErrNotFound
		}
		base := filepath.Clean(sub.expand(m.NativePath))
		return Resolved{Mount: m, Access: m.Access, Native: native, Base: base}, nil
	}

	return Resolved{}, ErrNotFound
}

func resolveNative(m *Mount, target []string, sub SubstitutionContext) (string, error) {
	base := filepath.Clean(sub.expand(m.NativePath))
	residual := target[len(m.segments):]

	full := base
	if len(residual) > 0 {
		full = filepath.Join(append([]string{base}, residual...)...)
	}
	full = filepath.Clean(full)

	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", ErrNotFound
	}
	return full, nil
}

// Entry is one row of a List result.
type Entry struct {
	Name      string
	IsDir     bool
	Size      int64
	Synthetic bool   // a mount point, not a native filesystem entry
	Access    Access // only meaningful when Synthetic
}

// List enumerates the native directory a virtual path resolves to, and
// overlays a synthetic entry for each direct child mount — spec.md §4.4's
// listing rule. Synthetic entries always take precedence over a
// same-named native entry.
func (t *Table) List(virtualPath string, sub SubstitutionContext) ([]Entry, error) {
	r, err := t.Resolve(virtualPath, sub)
	if err != nil {
		return nil, err
	}
	if !r.Access.CanList() {
		return nil, ErrNotFound
	}

	dirEntries, err := os.ReadDir(r.Native)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Entry, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		byName[de.Name()] = Entry{Name: de.Name(), IsDir: de.IsDir(), Size: size}
	}

	vTarget := splitVirtual(virtualPath)
	for name, access := range t.directChildMounts(vTarget) {
		byName[name] = Entry{Name: name, IsDir: true, Synthetic: true, Access: access}
	}

	entries := make([]Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// directChildMounts returns, for each immediate child segment name of
// parent that some mount's virtual path passes through, the access bits
// of the mount that sits exactly at parent+child if one exists, or of the
// shallowest mount beneath it otherwise.
func (t *Table) directChildMounts(parent []string) map[string]Access {
	best := map[string]*Mount{}
	for _, m := range t.mounts {
		if !isPrefix(parent, m.segments) || len(m.segments) <= len(parent) {
			continue
		}
		child := m.segments[len(parent)]
		cur, ok := best[child]
		if !ok || len(m.segments) < len(cur.segments) {
			best[child] = m
		}
	}
	out := make(map[string]Access, len(best))
	for name, m := range best {
		out[name] = m.Access
	}
	return out
}
