package tvfs

import (
	"os"
	"path/filepath"
	"testing"
)

func mustAdd(t *testing.T, tbl *Table, m Mount) {
	t.Helper()
	if err := tbl.Add(m); err != nil {
		t.Fatalf("Add(%q): %v", m.VirtualPath, err)
	}
}

func TestResolvePicksMostSpecificMount(t *testing.T) {
	root := t.TempDir()
	pub := filepath.Join(root, "pub")
	sub := filepath.Join(root, "pub", "sub")
	for _, d := range []string{pub, sub} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/pub", NativePath: pub, Access: AccessRead | AccessList})
	mustAdd(t, tbl, Mount{VirtualPath: "/pub/sub", NativePath: sub, Access: AccessRead | AccessWrite | AccessList})

	r, err := tbl.Resolve("/pub/sub/file.txt", SubstitutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Native != filepath.Join(sub, "file.txt") {
		t.Fatalf("native = %q", r.Native)
	}
	if !r.Access.CanWrite() {
		t.Fatal("expected write access from the more specific mount")
	}
}

func TestResolveRejectsDuplicateVirtualPath(t *testing.T) {
	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/pub", NativePath: "/a"})
	if err := tbl.Add(Mount{VirtualPath: "/pub", NativePath: "/b"}); err == nil {
		t.Fatal("expected ErrDuplicateMount")
	}
}

func TestResolveRecurseNoneFallsThroughToShorterMount(t *testing.T) {
	root := t.TempDir()
	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/", NativePath: root, Access: AccessRead | AccessList})
	mustAdd(t, tbl, Mount{VirtualPath: "/exact", NativePath: filepath.Join(root, "exact-native"), Access: AccessWrite, Recursion: RecurseNone})

	r, err := tbl.Resolve("/exact", SubstitutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Access.CanWrite() {
		t.Fatal("exact path should hit the RecurseNone mount")
	}

	r, err = tbl.Resolve("/exact/child", SubstitutionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Access.CanWrite() {
		t.Fatal("child path should fall through to the root mount, not inherit write access")
	}
}

func TestResolveSubstitutesUserAndHome(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "alice")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}

	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/home", NativePath: filepath.Join(root, ":u"), Access: AccessRead})

	r, err := tbl.Resolve("/home", SubstitutionContext{Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Native != home {
		t.Fatalf("native = %q, want %q", r.Native, home)
	}
}

func TestResolveBlocksEscapeViaDotDot(t *testing.T) {
	root := t.TempDir()
	pub := filepath.Join(root, "pub")
	if err := os.MkdirAll(pub, 0o755); err != nil {
		t.Fatal(err)
	}

	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/pub", NativePath: pub, Access: AccessRead})

	if _, err := tbl.Resolve("/pub/../../etc/passwd", SubstitutionContext{}); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListOverlaysSyntheticMountEntry(t *testing.T) {
	root := t.TempDir()
	pub := filepath.Join(root, "pub")
	sub := filepath.Join(root, "elsewhere")
	for _, d := range []string{pub, sub} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(pub, "readme.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/pub", NativePath: pub, Access: AccessRead | AccessList})
	mustAdd(t, tbl, Mount{VirtualPath: "/pub/sub", NativePath: sub, Access: AccessRead | AccessWrite | AccessList})

	entries, err := tbl.List("/pub", SubstitutionContext{})
	if err != nil {
		t.Fatal(err)
	}

	var foundFile, foundMount bool
	for _, e := range entries {
		switch e.Name {
		case "readme.txt":
			foundFile = true
		case "sub":
			foundMount = true
			if !e.Synthetic {
				t.Fatal("sub should be a synthetic entry")
			}
			if !e.Access.CanWrite() {
				t.Fatal("synthetic entry should carry the mount's own access bits")
			}
		}
	}
	if !foundFile || !foundMount {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAutocreateDisablesMountOnFailure(t *testing.T) {
	root := t.TempDir()
	// Use a path under a file (not a directory) so MkdirAll fails.
	blocker := filepath.Join(root, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl := NewTable()
	mustAdd(t, tbl, Mount{VirtualPath: "/bad", NativePath: filepath.Join(blocker, "child"), Flags: FlagAutocreate})
	mustAdd(t, tbl, Mount{VirtualPath: "/good", NativePath: filepath.Join(root, "good"), Flags: FlagAutocreate})

	disabled := tbl.Autocreate(SubstitutionContext{})
	if len(disabled) != 1 || disabled[0].VirtualPath != "/bad" {
		t.Fatalf("disabled = %+v", disabled)
	}
	if _, err := tbl.Resolve("/bad", SubstitutionContext{}); err != ErrNotFound {
		t.Fatal("disabled mount should no longer resolve")
	}
	if _, err := os.Stat(filepath.Join(root, "good")); err != nil {
		t.Fatal("good mount should have been created")
	}
}
