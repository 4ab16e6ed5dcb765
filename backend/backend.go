// Package backend performs the actual filesystem work behind file
// operations: recursive copy, move with rename fast path, delete and
// trash. A Local adapter works on the host filesystem directly; a
// Remote adapter streams between vfs backends when any endpoint has a
// scheme.
package backend

import (
	"context"
	"errors"

	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

var (
	// ErrDestinationInsideSource reports a recursive copy whose
	// destination lies inside the source tree.
	ErrDestinationInsideSource = errors.New("destination is inside the source directory")

	// ErrNotADirectory reports a destination that exists but cannot
	// receive entries.
	ErrNotADirectory = errors.New("destination is not a directory")
)

// Progress receives byte counts and item labels while an adapter works.
// Either callback may be nil.
type Progress struct {
	Bytes func(n int64)
	Label func(name string)
}

func (p Progress) addBytes(n int64) {
	if p.Bytes != nil {
		p.Bytes(n)
	}
}

func (p Progress) setLabel(name string) {
	if p.Label != nil {
		p.Label(name)
	}
}

// Adapter carries out path-level operations. Implementations honor the
// context between chunks so a cancel takes effect mid-transfer.
type Adapter interface {
	// Exists reports whether addr names an existing entry, without
	// following a trailing symlink.
	Exists(ctx context.Context, addr pathaddr.Address) (bool, error)

	// IsDirectory reports whether addr names a directory, following
	// symlinks.
	IsDirectory(ctx context.Context, addr pathaddr.Address) (bool, error)

	// Mount makes addr reachable, prompting auth when required.
	Mount(ctx context.Context, addr pathaddr.Address, auth vfs.AuthFunc) error

	// Copy copies the file or tree at src to dst. A canceled context
	// leaves no partially written file behind.
	Copy(ctx context.Context, src, dst pathaddr.Address, prog Progress) error

	// Move renames src to dst, falling back to copy+delete when a
	// rename cannot cross the boundary between the endpoints.
	Move(ctx context.Context, src, dst pathaddr.Address, prog Progress) error

	// Delete removes the file or tree at addr. A missing addr is not
	// an error.
	Delete(ctx context.Context, addr pathaddr.Address) error

	// Trash moves addr to a recoverable trash area. Returns
	// vfs.ErrNotSupported where the endpoint has none.
	Trash(ctx context.Context, addr pathaddr.Address) error
}

// For selects the adapter for a set of endpoints: the direct local
// adapter when every address is a plain path, the streaming remote
// adapter otherwise.
func For(reg *vfs.Registry, pool *BufferPool, addrs ...pathaddr.Address) Adapter {
	for _, a := range addrs {
		if a.IsRemote() && a.Scheme() != "file" {
			return NewRemote(reg, pool)
		}
	}
	return NewLocal(reg, pool)
}
