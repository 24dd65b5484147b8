// Package fileguard confines file access to a single workspace root.
//
// Every path a tool supplies is resolved by Resolve before any I/O: it is
// joined to the root, cleaned, its symlinks are evaluated, and the result
// must still be the root or a descendant of it. The guarded helpers
// (ReadFile, WriteFile, List) only ever operate on resolved paths.
package fileguard

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"toolsandbox/internal/toolerr"
)

const maxListEntries = 1000

// Guard holds the canonical workspace root. It is immutable after New and
// safe for concurrent use.
type Guard struct {
	root         string
	maxFileBytes int64
}

// Entry is one item of a directory listing.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// New canonicalizes root and returns a Guard for it.
func New(root string, maxFileBytes int64) (*Guard, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("workspace root is not a directory")
	}
	if maxFileBytes <= 0 {
		return nil, errors.New("max file bytes must be positive")
	}
	return &Guard{root: canonical, maxFileBytes: maxFileBytes}, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string { return g.root }

// MaxFileBytes returns the read/write size cap.
func (g *Guard) MaxFileBytes() int64 { return g.maxFileBytes }

// Resolve returns the canonical absolute path for p. Relative paths are
// taken relative to the root. The target does not need to exist; missing
// trailing components are appended to the resolved existing prefix.
func (g *Guard) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", toolerr.Validation("path is required")
	}
	if strings.ContainsRune(p, 0) {
		return "", toolerr.Validation("path contains a NUL byte")
	}
	var joined string
	if filepath.IsAbs(p) {
		joined = filepath.Clean(p)
	} else {
		joined = filepath.Join(g.root, p)
	}
	if !g.contains(joined) {
		return "", toolerr.Permission("path escapes workspace")
	}
	resolved, err := evalExisting(joined)
	if err != nil {
		return "", toolerr.Permission("path cannot be resolved inside workspace")
	}
	if !g.contains(resolved) {
		return "", toolerr.Permission("path escapes workspace")
	}
	if isSecret(g.Rel(resolved)) {
		return "", toolerr.Permission("access to credential files is not allowed")
	}
	return resolved, nil
}

// Rel returns resolved relative to the root in slash form, "." for the root
// itself. It is what error messages and listings show instead of host paths.
func (g *Guard) Rel(resolved string) string {
	rel, err := filepath.Rel(g.root, resolved)
	if err != nil {
		return "."
	}
	return filepath.ToSlash(rel)
}

func (g *Guard) contains(p string) bool {
	rel, err := filepath.Rel(g.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the remaining components unchanged.
func evalExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
	resolved, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	for i := len(rest) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, rest[i])
	}
	return resolved, nil
}

// ReadFile reads a workspace file. Directories are rejected and files larger
// than the cap fail with ResourceLimitExceeded rather than being truncated.
func (g *Guard) ReadFile(p string) ([]byte, error) {
	resolved, err := g.Resolve(p)
	if err != nil {
		return nil, err
	}
	rel := g.Rel(resolved)
	f, err := os.OpenFile(resolved, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, ioError(rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ioError(rel, err)
	}
	if info.IsDir() {
		return nil, toolerr.Validation("%s is a directory", rel)
	}
	if !info.Mode().IsRegular() {
		return nil, toolerr.Permission("%s is not a regular file", rel)
	}
	if info.Size() > g.maxFileBytes {
		return nil, toolerr.ResourceLimit("%s is %d bytes, limit is %d", rel, info.Size(), g.maxFileBytes)
	}
	data, err := io.ReadAll(io.LimitReader(f, g.maxFileBytes+1))
	if err != nil {
		return nil, ioError(rel, err)
	}
	if int64(len(data)) > g.maxFileBytes {
		return nil, toolerr.ResourceLimit("%s exceeds %d bytes", rel, g.maxFileBytes)
	}
	return data, nil
}

// WriteFile creates or replaces a workspace file. Content over the cap is
// rejected and nothing is written. Missing parent directories are created.
func (g *Guard) WriteFile(p string, content []byte) error {
	if int64(len(content)) > g.maxFileBytes {
		return toolerr.ResourceLimit("content is %d bytes, limit is %d", len(content), g.maxFileBytes)
	}
	resolved, err := g.Resolve(p)
	if err != nil {
		return err
	}
	if resolved == g.root {
		return toolerr.Validation("cannot write to the workspace root")
	}
	rel := g.Rel(resolved)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ioError(rel, err)
	}
	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0o644)
	if err != nil {
		return ioError(rel, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return ioError(rel, err)
	}
	if err := f.Close(); err != nil {
		return ioError(rel, err)
	}
	return nil
}

// List returns the sorted entries of a workspace directory, skipping
// credential files. The bool reports whether the listing was capped.
func (g *Guard) List(p string) ([]Entry, bool, error) {
	if p == "" {
		p = "."
	}
	resolved, err := g.Resolve(p)
	if err != nil {
		return nil, false, err
	}
	rel := g.Rel(resolved)
	dirents, err := os.ReadDir(resolved)
	if err != nil {
		return nil, false, ioError(rel, err)
	}
	entries := make([]Entry, 0, len(dirents))
	truncated := false
	for _, d := range dirents {
		if isSecret(filepath.ToSlash(filepath.Join(rel, d.Name()))) {
			continue
		}
		if len(entries) == maxListEntries {
			truncated = true
			break
		}
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, truncated, nil
}

// ioError classifies an OS error without exposing the host path.
func ioError(rel string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return toolerr.Execution("%s: no such file or directory", rel)
	case errors.Is(err, fs.ErrPermission):
		return toolerr.Permission("%s: permission denied", rel)
	case errors.Is(err, unix.ELOOP):
		return toolerr.Permission("%s: refusing to follow symlink", rel)
	case errors.Is(err, unix.ENOTDIR):
		return toolerr.Validation("%s: not a directory", rel)
	case errors.Is(err, unix.EISDIR):
		return toolerr.Validation("%s is a directory", rel)
	default:
		return toolerr.Internal("file operation failed")
	}
}
