package backend

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

var _ Adapter = (*Remote)(nil)

// Remote streams entries between vfs backends. It never touches the
// host filesystem directly, so any pair of endpoints the registry can
// resolve works, including local-to-remote and remote-to-remote.
type Remote struct {
	reg  *vfs.Registry
	pool *BufferPool
}

func NewRemote(reg *vfs.Registry, pool *BufferPool) *Remote {
	if pool == nil {
		pool = NewBufferPool(0)
	}
	return &Remote{reg: reg, pool: pool}
}

func (r *Remote) Exists(ctx context.Context, addr pathaddr.Address) (bool, error) {
	fsys, err := r.reg.Lookup(addr)
	if err != nil {
		return false, err
	}
	_, err = fsys.Stat(ctx, addr)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (r *Remote) IsDirectory(ctx context.Context, addr pathaddr.Address) (bool, error) {
	fsys, err := r.reg.Lookup(addr)
	if err != nil {
		return false, err
	}
	info, err := fsys.Stat(ctx, addr)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Dir, nil
}

func (r *Remote) Mount(ctx context.Context, addr pathaddr.Address, auth vfs.AuthFunc) error {
	fsys, err := r.reg.Lookup(addr)
	if err != nil {
		return err
	}
	return fsys.Mount(ctx, addr, auth)
}

func (r *Remote) Copy(ctx context.Context, src, dst pathaddr.Address, prog Progress) error {
	srcFS, err := r.reg.Lookup(src)
	if err != nil {
		return err
	}
	dstFS, err := r.reg.Lookup(dst)
	if err != nil {
		return err
	}

	info, err := srcFS.Stat(ctx, src)
	if err != nil {
		return err
	}
	return r.copyEntry(ctx, srcFS, dstFS, src, dst, info, prog)
}

func (r *Remote) copyEntry(ctx context.Context, srcFS, dstFS vfs.FileSystem, src, dst pathaddr.Address, info vfs.Entry, prog Progress) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	switch {
	case info.Symlink:
		return r.copyLink(ctx, srcFS, dstFS, src, dst, info, prog)
	case info.Dir:
		if err := dstFS.Mkdir(ctx, dst); err != nil {
			return err
		}
		children, err := srcFS.List(ctx, src)
		if err != nil {
			return err
		}
		for _, child := range children {
			err := r.copyEntry(ctx, srcFS, dstFS, src.Join(child.Name), dst.Join(child.Name), child, prog)
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return r.copyFile(ctx, srcFS, dstFS, src, dst, info, prog)
	}
}

// copyLink recreates a symlink when both endpoints support them,
// otherwise copies the link's content.
func (r *Remote) copyLink(ctx context.Context, srcFS, dstFS vfs.FileSystem, src, dst pathaddr.Address, info vfs.Entry, prog Progress) error {
	srcLinks, srcOK := srcFS.(vfs.SymlinkFS)
	dstLinks, dstOK := dstFS.(vfs.SymlinkFS)
	if srcOK && dstOK {
		target := info.Target
		if target == "" {
			var err error
			target, err = srcLinks.ReadLink(ctx, src)
			if err != nil {
				return err
			}
		}
		return dstLinks.Symlink(ctx, target, dst)
	}

	resolved, err := srcFS.Stat(ctx, src)
	if err != nil {
		return err
	}
	return r.copyEntry(ctx, srcFS, dstFS, src, dst, resolved, prog)
}

// copyFile streams one file between backends in chunks, checking the
// context between chunks. A cancel or write failure removes the
// partial destination.
func (r *Remote) copyFile(ctx context.Context, srcFS, dstFS vfs.FileSystem, src, dst pathaddr.Address, info vfs.Entry, prog Progress) error {
	prog.setLabel(info.Name)

	in, err := srcFS.OpenRead(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dstFS.OpenWrite(ctx, dst, &info)
	if err != nil {
		return err
	}

	abort := func(cause error) error {
		out.Close()
		_ = dstFS.Remove(ctx, dst)
		return cause
	}

	buf := r.pool.Get()
	defer r.pool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			out.Close()
			// Use a fresh context so the cleanup itself is not canceled.
			_ = dstFS.Remove(context.Background(), dst)
			return ctx.Err()
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
		_ = dstFS.Remove(ctx, dst)
		return err
	}
	return nil
}

func (r *Remote) Move(ctx context.Context, src, dst pathaddr.Address, prog Progress) error {
	prog.setLabel(src.Basename())

	srcFS, err := r.reg.Lookup(src)
	if err != nil {
		return err
	}
	dstFS, err := r.reg.Lookup(dst)
	if err != nil {
		return err
	}

	// Same backend and host: try the native rename first.
	if srcFS == dstFS && src.HostKey() == dst.HostKey() {
		err := srcFS.Rename(ctx, src, dst)
		if err == nil {
			return nil
		}
		if !errors.Is(err, vfs.ErrNotSupported) {
			return err
		}
	}

	if err := r.Copy(ctx, src, dst, prog); err != nil {
		return err
	}
	return r.Delete(ctx, src)
}

func (r *Remote) Delete(ctx context.Context, addr pathaddr.Address) error {
	fsys, err := r.reg.Lookup(addr)
	if err != nil {
		return err
	}
	return r.deleteEntry(ctx, fsys, addr)
}

func (r *Remote) deleteEntry(ctx context.Context, fsys vfs.FileSystem, addr pathaddr.Address) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := fsys.Stat(ctx, addr)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Dir {
		children, err := fsys.List(ctx, addr)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := r.deleteEntry(ctx, fsys, addr.Join(child.Name)); err != nil {
				return err
			}
		}
	}
	return fsys.Remove(ctx, addr)
}

func (r *Remote) Trash(ctx context.Context, addr pathaddr.Address) error {
	fsys, err := r.reg.Lookup(addr)
	if err != nil {
		return err
	}
	return fsys.Trash(ctx, addr)
}
