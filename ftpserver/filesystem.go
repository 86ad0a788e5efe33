package ftpserver

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gonzalop/ftpd/tvfs"
)

// errEscapesMount is returned when a resolved native path, after
// following symlinks, would land outside the mount that was asked to
// serve it — the same defense-in-depth driver_fs.go's Rename/SetTime
// applied to a single rooted filesystem, generalized here to apply per
// mount instead of per server root.
var errEscapesMount = errors.New("ftpserver: path escapes its mount")

// sessionFS is the per-login filesystem view: a tvfs.Table resolved
// with the user's substitution context, plus the virtual working
// directory RFC 959 commands navigate.
type sessionFS struct {
	table *tvfs.Table
	sub   tvfs.SubstitutionContext
	cwd   string // always absolute, e.g. "/" or "/pub/incoming"
}

func newSessionFS(table *tvfs.Table, sub tvfs.SubstitutionContext) *sessionFS {
	return &sessionFS{table: table, sub: sub, cwd: "/"}
}

func (f *sessionFS) resolveVirtual(p string) string {
	if p == "" {
		p = "."
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(f.cwd, p)
	}
	return path.Clean("/" + p)
}

// resolve looks up a virtual path, confirming the effective access
// includes every bit in need and that the native path does not escape
// its mount via a symlink.
func (f *sessionFS) resolve(virtualPath string, need tvfs.Access) (tvfs.Resolved, error) {
	vp := f.resolveVirtual(virtualPath)
	r, err := f.table.Resolve(vp, f.sub)
	if err != nil {
		return tvfs.Resolved{}, err
	}
	if r.Access&need != need {
		return tvfs.Resolved{}, os.ErrPermission
	}
	if err := confineToMount(r); err != nil {
		return tvfs.Resolved{}, err
	}
	return r, nil
}

// confineToMount resolves symlinks on an existing path and demands the
// result still lives under the mount's native base. A not-yet-existing
// path (the common case for MKD/STOR of a new name) is confined by
// checking its parent directory instead.
func confineToMount(r tvfs.Resolved) error {
	target := r.Native
	if _, err := os.Lstat(target); os.IsNotExist(err) {
		target = filepath.Dir(target)
	}
	real, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // parent doesn't exist yet either; the operation itself will fail informatively
		}
		return err
	}
	base, err := filepath.EvalSymlinks(r.Base)
	if err != nil {
		base = r.Base
	}
	if real != base && !strings.HasPrefix(real, base+string(filepath.Separator)) {
		return errEscapesMount
	}
	return nil
}

func (f *sessionFS) ChangeDir(p string) error {
	r, err := f.resolve(p, tvfs.AccessList)
	if err != nil {
		return err
	}
	info, err := os.Stat(r.Native)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	f.cwd = f.resolveVirtual(p)
	return nil
}

func (f *sessionFS) GetWd() (string, error) { return f.cwd, nil }

func (f *sessionFS) MakeDir(p string) error {
	r, err := f.resolve(p, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	return os.Mkdir(r.Native, 0o755)
}

func (f *sessionFS) RemoveDir(p string) error {
	r, err := f.resolve(p, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	return os.Remove(r.Native)
}

func (f *sessionFS) DeleteFile(p string) error {
	r, err := f.resolve(p, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	return os.Remove(r.Native)
}

func (f *sessionFS) Rename(from, to string) error {
	src, err := f.resolve(from, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	dst, err := f.resolve(to, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	if err := os.Rename(src.Native, dst.Native); err != nil {
		return err
	}
	return nil
}

// Entry is one row of a directory listing, carrying what LIST/NLST/MLSD
// need without exposing os.FileInfo's ModTime clock source directly.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

func (f *sessionFS) ListDir(p string) ([]Entry, error) {
	vp := f.resolveVirtual(p)
	tvEntries, err := f.table.List(vp, f.sub)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(tvEntries))
	for _, e := range tvEntries {
		if e.Synthetic {
			out = append(out, Entry{Name: e.Name, IsDir: true, Mode: os.ModeDir | 0o555, ModTime: time.Now()})
			continue
		}
		out = append(out, Entry{Name: e.Name, IsDir: e.IsDir, Size: e.Size})
	}
	// tvfs.List doesn't carry Mode/ModTime for native entries; stat them.
	r, rerr := f.table.Resolve(vp, f.sub)
	if rerr == nil {
		for i := range out {
			if out[i].ModTime.IsZero() {
				if info, err := os.Stat(filepath.Join(r.Native, out[i].Name)); err == nil {
					out[i].Mode = info.Mode()
					out[i].ModTime = info.ModTime()
				}
			}
		}
	}
	return out, nil
}

func (f *sessionFS) OpenFile(p string, flag int) (*os.File, error) {
	need := tvfs.AccessRead
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		need = tvfs.AccessWrite
	}
	r, err := f.resolve(p, need)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(r.Native, flag, 0o644)
}

func (f *sessionFS) GetFileInfo(p string) (os.FileInfo, error) {
	r, err := f.resolve(p, 0)
	if err != nil {
		return nil, err
	}
	return os.Stat(r.Native)
}

func (f *sessionFS) GetHash(p string, algo string) (string, error) {
	r, err := f.resolve(p, tvfs.AccessRead)
	if err != nil {
		return "", err
	}
	file, err := os.Open(r.Native)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var h interface {
		io.Writer
		Sum([]byte) []byte
	}
	switch strings.ToUpper(algo) {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", fmt.Errorf("unsupported algorithm %q", algo)
	}
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *sessionFS) SetTime(p string, t time.Time) error {
	r, err := f.resolve(p, tvfs.AccessWrite)
	if err != nil {
		return err
	}
	return os.Chtimes(r.Native, t, t)
}

func (f *sessionFS) Chmod(p string, mode os.FileMode) error {
	if mode > 0o777 {
		return os.ErrInvalid
	}
	r, err := f.resolve(p, tvfs.AccessStructureModification)
	if err != nil {
		return err
	}
	return os.Chmod(r.Native, mode)
}
