// Package vfs abstracts storage backends behind a common filesystem
// interface keyed by address scheme. Local disks and remote services
// plug in through the same surface so transfer code never branches on
// where a file lives.
package vfs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/quarrydev/fileops/pathaddr"
)

// ErrNotSupported reports that a filesystem cannot perform the requested
// operation natively. Callers are expected to fall back to a portable
// strategy (for example copy+delete instead of rename).
var ErrNotSupported = errors.New("operation not supported by this filesystem")

// Entry is the standard metadata for a file or directory across
// storage backends.
type Entry struct {
	Name    string
	Size    int64
	Dir     bool
	ModTime time.Time
	Mode    uint32

	// Symlink is set when the entry is a symbolic link; Target holds
	// the link destination. Backends without symlinks leave both zero.
	Symlink bool
	Target  string
}

// FileSystem represents a storage backend abstraction.
// A typical FileSystem might be local storage, S3, SFTP, etc.
type FileSystem interface {
	// Stat returns the Entry for the given address, following symlinks.
	Stat(ctx context.Context, addr pathaddr.Address) (Entry, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, addr pathaddr.Address) ([]Entry, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, addr pathaddr.Address) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming writes, applying metadata on
	// Close where the backend supports it. meta may be nil.
	OpenWrite(ctx context.Context, addr pathaddr.Address, meta *Entry) (io.WriteCloser, error)

	// Mkdir creates a directory. Creating a directory that already
	// exists is not an error.
	Mkdir(ctx context.Context, addr pathaddr.Address) error

	// Rename moves an entry within the same filesystem. Backends that
	// cannot rename return ErrNotSupported.
	Rename(ctx context.Context, oldAddr, newAddr pathaddr.Address) error

	// Remove deletes a single file or an empty directory. It does not
	// recurse.
	Remove(ctx context.Context, addr pathaddr.Address) error

	// Trash moves an entry to the backend's recoverable trash area.
	// Backends without one return ErrNotSupported.
	Trash(ctx context.Context, addr pathaddr.Address) error

	// Mount establishes a connection for the given address, asking auth
	// for credentials when the backend needs them. Mounting an already
	// reachable location is a no-op.
	Mount(ctx context.Context, addr pathaddr.Address, auth AuthFunc) error
}

// SymlinkFS is implemented by filesystems that can read and create
// symbolic links. Backends without it get link contents copied instead.
type SymlinkFS interface {
	ReadLink(ctx context.Context, addr pathaddr.Address) (string, error)
	Symlink(ctx context.Context, target string, addr pathaddr.Address) error
}

// Registry maps address schemes to their filesystems. The empty scheme
// and "file" always resolve to the local filesystem.
type Registry struct {
	local   FileSystem
	schemes map[string]FileSystem
}

// NewRegistry builds a registry with local as the filesystem for plain
// paths and file:// addresses.
func NewRegistry(local FileSystem) *Registry {
	return &Registry{
		local:   local,
		schemes: make(map[string]FileSystem),
	}
}

// Register installs fs as the handler for scheme.
func (r *Registry) Register(scheme string, fs FileSystem) {
	r.schemes[scheme] = fs
}

// Lookup resolves the filesystem responsible for addr.
func (r *Registry) Lookup(addr pathaddr.Address) (FileSystem, error) {
	scheme := addr.Scheme()
	if scheme == "" || scheme == "file" {
		return r.local, nil
	}
	fs, ok := r.schemes[scheme]
	if !ok {
		return nil, errors.New("no filesystem registered for scheme " + scheme)
	}
	return fs, nil
}

// Local returns the registry's local filesystem.
func (r *Registry) Local() FileSystem { return r.local }
