// Package engine executes file operations asynchronously. Each request
// runs on its own background goroutine, publishing progress counters
// and suspending on a prompt channel whenever a conflict or a failure
// needs a decision from whoever is driving the run.
package engine

import (
	"errors"
	"fmt"

	"github.com/quarrydev/fileops/pathaddr"
)

// Op identifies what a request does.
type Op int

const (
	// OpCopyMove copies sources into a destination directory; the Move
	// flag on the request turns it into a move.
	OpCopyMove Op = iota
	// OpTrash sends sources to the recoverable trash.
	OpTrash
	// OpDelete removes sources permanently.
	OpDelete
	// OpExtract runs an external extractor command.
	OpExtract
)

var (
	ErrNoSources     = errors.New("request has no sources")
	ErrNoDestination = errors.New("copy or move request has no destination")
	ErrNoCommand     = errors.New("extract request has no command")
)

// Request describes one file operation. It is immutable once submitted.
type Request struct {
	Op      Op
	Move    bool
	Sources []pathaddr.Address

	// Dest is the destination directory for OpCopyMove. It stays zero
	// for the other kinds.
	Dest pathaddr.Address

	// Argv is the extractor command line for OpExtract.
	Argv []string
}

// Validate rejects requests that can never run.
func (r Request) Validate() error {
	switch r.Op {
	case OpCopyMove:
		if len(r.Sources) == 0 {
			return ErrNoSources
		}
		if r.Dest.IsZero() {
			return ErrNoDestination
		}
		return r.Dest.Concrete()
	case OpTrash, OpDelete:
		if len(r.Sources) == 0 {
			return ErrNoSources
		}
	case OpExtract:
		if len(r.Argv) == 0 {
			return ErrNoCommand
		}
	}
	return nil
}

// Items is the number of countable work units in the request.
func (r Request) Items() int {
	if r.Op == OpExtract {
		return 1
	}
	return len(r.Sources)
}

// Description renders a short human-readable summary, used for queue
// listings.
func (r Request) Description() string {
	noun := "items"
	if r.Items() == 1 {
		noun = "item"
	}
	switch r.Op {
	case OpCopyMove:
		verb := "Copy"
		if r.Move {
			verb = "Move"
		}
		return fmt.Sprintf("%s %d %s to %s", verb, len(r.Sources), noun, r.Dest.String())
	case OpTrash:
		return fmt.Sprintf("Trash %d %s", len(r.Sources), noun)
	case OpDelete:
		return fmt.Sprintf("Delete %d %s", len(r.Sources), noun)
	case OpExtract:
		return fmt.Sprintf("Extract %s", r.Argv[len(r.Argv)-1])
	}
	return "Unknown operation"
}

// anyRemote reports whether any source sits behind a remote scheme.
func (r Request) anyRemote() bool {
	for _, s := range r.Sources {
		if s.IsRemote() && s.Scheme() != "file" {
			return true
		}
	}
	return false
}

// endpoints lists every address the request touches, for adapter
// selection.
func (r Request) endpoints() []pathaddr.Address {
	if r.Dest.IsZero() {
		return r.Sources
	}
	return append(append([]pathaddr.Address{}, r.Sources...), r.Dest)
}
