package vfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/trash"
)

// ensure interfaces are implemented
var (
	_ FileSystem = (*LocalFS)(nil)
	_ SymlinkFS  = (*LocalFS)(nil)
)

// LocalFS implements FileSystem for posix-compliant local filesystems.
type LocalFS struct {
	bin *trash.Bin
}

// NewLocalFS creates a LocalFS. bin may be nil, in which case Trash
// returns ErrNotSupported.
func NewLocalFS(bin *trash.Bin) *LocalFS {
	return &LocalFS{bin: bin}
}

// EntryFromInfo converts an os fs.FileInfo into an Entry. Symlink
// fields stay unset; callers that Lstat fill them in.
func EntryFromInfo(info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Size:    info.Size(),
		Dir:     info.IsDir(),
		ModTime: info.ModTime(),
		Mode:    uint32(info.Mode().Perm()),
	}
}

func (l *LocalFS) Stat(ctx context.Context, addr pathaddr.Address) (Entry, error) {
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}

	info, err := os.Stat(addr.Path())
	if err != nil {
		return Entry{}, err
	}
	return EntryFromInfo(info), nil
}

func (l *LocalFS) List(ctx context.Context, addr pathaddr.Address) ([]Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dirEntries, err := os.ReadDir(addr.Path())
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		e := EntryFromInfo(info)
		if info.Mode()&os.ModeSymlink != 0 {
			e.Symlink = true
			e.Target, _ = os.Readlink(filepath.Join(addr.Path(), de.Name()))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *LocalFS) OpenRead(ctx context.Context, addr pathaddr.Address) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return os.Open(addr.Path())
}

func (l *LocalFS) OpenWrite(ctx context.Context, addr pathaddr.Address, meta *Entry) (io.WriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := addr.Path()
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}

	mode := os.FileMode(0644)
	if meta != nil && meta.Mode != 0 {
		mode = os.FileMode(meta.Mode)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}

	return &localWriteCloser{
		File:     file,
		fullPath: fullPath,
		meta:     meta,
	}, nil
}

func (l *LocalFS) Mkdir(ctx context.Context, addr pathaddr.Address) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return os.MkdirAll(addr.Path(), 0755)
}

func (l *LocalFS) Rename(ctx context.Context, oldAddr, newAddr pathaddr.Address) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return os.Rename(oldAddr.Path(), newAddr.Path())
}

func (l *LocalFS) Remove(ctx context.Context, addr pathaddr.Address) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return os.Remove(addr.Path())
}

func (l *LocalFS) Trash(ctx context.Context, addr pathaddr.Address) error {
	if l.bin == nil {
		return ErrNotSupported
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return l.bin.Put(addr.Path())
}

// Mount is a no-op for local paths.
func (l *LocalFS) Mount(ctx context.Context, addr pathaddr.Address, auth AuthFunc) error {
	return nil
}

func (l *LocalFS) ReadLink(ctx context.Context, addr pathaddr.Address) (string, error) {
	return os.Readlink(addr.Path())
}

func (l *LocalFS) Symlink(ctx context.Context, target string, addr pathaddr.Address) error {
	return os.Symlink(target, addr.Path())
}

// localWriteCloser wraps an os.File and applies the source timestamp on
// close. This is necessary because writing to the file updates its mtime.
type localWriteCloser struct {
	*os.File
	fullPath string
	meta     *Entry
}

func (l *localWriteCloser) Close() error {
	if err := l.File.Close(); err != nil {
		return err
	}

	if l.meta != nil && !l.meta.ModTime.IsZero() {
		// Ignore errors on applying timestamp
		_ = os.Chtimes(l.fullPath, time.Now(), l.meta.ModTime)
	}

	return nil
}
