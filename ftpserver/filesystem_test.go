package ftpserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gonzalop/ftpd/tvfs"
)

func newTestFS(t *testing.T, access tvfs.Access) (*sessionFS, string) {
	t.Helper()
	root := t.TempDir()
	table := tvfs.NewTable()
	if err := table.Add(tvfs.Mount{VirtualPath: "/", NativePath: root, Access: access}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return newSessionFS(table, tvfs.SubstitutionContext{Username: "alice", Home: root}), root
}

func TestSessionFSMakeDirAndChangeDir(t *testing.T) {
	fs, _ := newTestFS(t, tvfs.AccessList|tvfs.AccessStructureModification)

	if err := fs.MakeDir("incoming"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := fs.ChangeDir("incoming"); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}
	wd, _ := fs.GetWd()
	if wd != "/incoming" {
		t.Errorf("GetWd = %q, want /incoming", wd)
	}
}

func TestSessionFSChangeDirRejectsFile(t *testing.T) {
	fs, root := newTestFS(t, tvfs.AccessList)
	if err := os.WriteFile(filepath.Join(root, "plain.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.ChangeDir("plain.txt"); err == nil {
		t.Error("expected ChangeDir into a regular file to fail")
	}
}

func TestSessionFSRequiresAccessBit(t *testing.T) {
	fs, _ := newTestFS(t, tvfs.AccessList) // no AccessStructureModification
	if err := fs.MakeDir("nope"); err == nil {
		t.Error("expected MakeDir without AccessStructureModification to fail")
	}
}

func TestConfineToMountRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	root := t.TempDir()
	escapeTarget := filepath.Join(outside, "secret")
	if err := os.WriteFile(escapeTarget, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "escape")
	if err := os.Symlink(escapeTarget, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	table := tvfs.NewTable()
	if err := table.Add(tvfs.Mount{VirtualPath: "/", NativePath: root, Access: tvfs.AccessRead}); err != nil {
		t.Fatal(err)
	}
	fs := newSessionFS(table, tvfs.SubstitutionContext{})

	if _, err := fs.resolve("/escape", tvfs.AccessRead); err != errEscapesMount {
		t.Errorf("resolve(/escape) = %v, want errEscapesMount", err)
	}
}

func TestSessionFSListDirSeesSyntheticMount(t *testing.T) {
	root := t.TempDir()
	table := tvfs.NewTable()
	if err := table.Add(tvfs.Mount{VirtualPath: "/", NativePath: root, Access: tvfs.AccessList}); err != nil {
		t.Fatal(err)
	}
	subRoot := t.TempDir()
	if err := table.Add(tvfs.Mount{VirtualPath: "/shared", NativePath: subRoot, Access: tvfs.AccessList}); err != nil {
		t.Fatal(err)
	}
	fs := newSessionFS(table, tvfs.SubstitutionContext{})

	entries, err := fs.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	var sawShared bool
	for _, e := range entries {
		if e.Name == "shared" {
			sawShared = true
			if !e.IsDir {
				t.Error("synthetic mount entry should report IsDir")
			}
		}
	}
	if !sawShared {
		t.Error("expected synthetic mount point \"shared\" in listing")
	}
}
