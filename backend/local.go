package backend

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

var _ Adapter = (*Local)(nil)

// Local operates on the host filesystem directly, without going through
// a vfs backend. Rename stays a single syscall and symlinks are
// replicated rather than followed.
type Local struct {
	reg  *vfs.Registry
	pool *BufferPool

	// rename is os.Rename; tests swap it to force the fallback path.
	rename func(oldpath, newpath string) error
}

func NewLocal(reg *vfs.Registry, pool *BufferPool) *Local {
	if pool == nil {
		pool = NewBufferPool(0)
	}
	return &Local{reg: reg, pool: pool, rename: os.Rename}
}

func (l *Local) Exists(ctx context.Context, addr pathaddr.Address) (bool, error) {
	_, err := os.Lstat(addr.Path())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) IsDirectory(ctx context.Context, addr pathaddr.Address) (bool, error) {
	info, err := os.Stat(addr.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Mount is a no-op for local paths.
func (l *Local) Mount(ctx context.Context, addr pathaddr.Address, auth vfs.AuthFunc) error {
	return nil
}

func (l *Local) Copy(ctx context.Context, src, dst pathaddr.Address, prog Progress) error {
	// The root follows symlinks so copying through a link works; entries
	// below it are replicated as-is.
	info, err := os.Stat(src.Path())
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := checkInsideSource(src.Path(), dst.Path()); err != nil {
			return err
		}
		return l.copyTree(ctx, src.Path(), dst.Path(), info, prog)
	}
	return l.copyFile(ctx, src.Path(), dst.Path(), info, prog)
}

// copyTree walks the source iteratively with an explicit stack to avoid
// deep recursion on pathological trees.
func (l *Local) copyTree(ctx context.Context, srcRoot, dstRoot string, rootInfo os.FileInfo, prog Progress) error {
	if err := os.MkdirAll(dstRoot, rootInfo.Mode().Perm()); err != nil {
		return err
	}

	stack := []string{""}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		curSrc := filepath.Join(srcRoot, rel)
		curDst := filepath.Join(dstRoot, rel)

		entries, err := os.ReadDir(curSrc)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue // skip entries that disappeared between ReadDir and Info
			}

			entryRel := filepath.Join(rel, entry.Name())
			srcPath := filepath.Join(srcRoot, entryRel)
			dstPath := filepath.Join(curDst, entry.Name())

			switch {
			case info.Mode()&os.ModeSymlink != 0:
				target, err := os.Readlink(srcPath)
				if err != nil {
					return err
				}
				_ = os.Remove(dstPath)
				if err := os.Symlink(target, dstPath); err != nil {
					return err
				}
			case info.IsDir():
				if err := os.MkdirAll(dstPath, info.Mode().Perm()); err != nil {
					return err
				}
				stack = append(stack, entryRel)
			default:
				if err := l.copyFile(ctx, srcPath, dstPath, info, prog); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// copyFile copies one regular file in chunks, checking the context
// between chunks. A cancel or write failure removes the partial
// destination.
func (l *Local) copyFile(ctx context.Context, srcPath, dstPath string, info os.FileInfo, prog Progress) error {
	prog.setLabel(filepath.Base(srcPath))

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	abort := func(cause error) error {
		out.Close()
		os.Remove(dstPath)
		return cause
	}

	buf := l.pool.Get()
	defer l.pool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		default:
		}

		n, rerr := in.Read(*buf)
		if n > 0 {
			if _, werr := out.Write((*buf)[:n]); werr != nil {
				return abort(werr)
			}
			prog.addBytes(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return abort(rerr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return err
	}

	// Keep the source timestamp. Errors here are not worth failing the copy.
	_ = os.Chtimes(dstPath, time.Now(), info.ModTime())
	return nil
}

func (l *Local) Move(ctx context.Context, src, dst pathaddr.Address, prog Progress) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	prog.setLabel(src.Basename())

	err := l.rename(src.Path(), dst.Path())
	if err == nil {
		return nil
	}
	if !renameNeedsFallback(err) {
		return err
	}

	// Cross-device: copy then delete. A failed copy leaves the source
	// untouched; a failed delete leaves both copies for the caller to
	// report.
	if err := l.Copy(ctx, src, dst, prog); err != nil {
		return err
	}
	return l.Delete(ctx, src)
}

func renameNeedsFallback(err error) bool {
	return errors.Is(err, syscall.EXDEV) || errors.Is(err, syscall.ENOTSUP)
}

func (l *Local) Delete(ctx context.Context, addr pathaddr.Address) error {
	return deletePath(ctx, addr.Path())
}

func deletePath(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := deletePath(ctx, filepath.Join(path, entry.Name())); err != nil {
				return err
			}
		}
	}
	return os.Remove(path)
}

func (l *Local) Trash(ctx context.Context, addr pathaddr.Address) error {
	return l.reg.Local().Trash(ctx, addr)
}

// CheckInsideSource rejects a copy or move whose destination lies
// inside the source tree. Only meaningful for local endpoints; remote
// pairs pass through.
func CheckInsideSource(src, dst pathaddr.Address) error {
	if src.IsRemote() || dst.IsRemote() {
		return nil
	}
	return checkInsideSource(src.Path(), dst.Path())
}

// checkInsideSource rejects a copy whose destination resolves to a path
// inside the source tree, which would otherwise recurse forever.
func checkInsideSource(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	srcAbs = canonicalize(srcAbs)
	dstAbs = canonicalize(dstAbs)

	if dstAbs == srcAbs || strings.HasPrefix(dstAbs, srcAbs+string(os.PathSeparator)) {
		return ErrDestinationInsideSource
	}
	return nil
}

// canonicalize resolves symlinks along the longest existing prefix of
// path, leaving any not-yet-created suffix as-is.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(canonicalize(parent), filepath.Base(path))
}
