package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/quarrydev/fileops/backend"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

// Engine starts runs. It holds the pieces every run shares: the
// filesystem registry, the transfer buffer pool, the credential
// prompt, and a logger.
type Engine struct {
	Registry *vfs.Registry
	Pool     *backend.BufferPool
	Auth     vfs.AuthFunc
	Log      zerolog.Logger
}

func New(reg *vfs.Registry, pool *backend.BufferPool, log zerolog.Logger) *Engine {
	if pool == nil {
		pool = backend.NewBufferPool(0)
	}
	return &Engine{Registry: reg, Pool: pool, Log: log}
}

// Start validates the request, performs the pre-flight checks that must
// fail before any byte is written, and launches the worker goroutine.
func (e *Engine) Start(ctx context.Context, req Request) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter := backend.For(e.Registry, e.Pool, req.endpoints()...)

	// Mounting is best effort; an unreachable endpoint surfaces later
	// as a per-item failure with its real error message.
	for _, addr := range req.endpoints() {
		if addr.IsRemote() && addr.Scheme() != "file" {
			if err := adapter.Mount(ctx, addr, e.Auth); err != nil {
				e.Log.Warn().Str("address", addr.String()).Err(err).Msg("mount failed")
			}
		}
	}

	if req.Op == OpCopyMove {
		isDir, err := adapter.IsDirectory(ctx, req.Dest)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", req.Dest.String(), err)
		}
		if !isDir {
			return nil, fmt.Errorf("destination %s: %w", req.Dest.String(), backend.ErrNotADirectory)
		}
		for _, src := range req.Sources {
			target := req.Dest.Join(src.Basename())
			if err := backend.CheckInsideSource(src, target); err != nil {
				return nil, fmt.Errorf("%s into %s: %w", src.String(), req.Dest.String(), err)
			}
		}
	}

	hasDir := false
	for _, src := range req.Sources {
		if d, err := adapter.IsDirectory(ctx, src); err == nil && d {
			hasDir = true
			break
		}
	}

	run := newRun(ctx, req, hasDir)

	e.Log.Info().
		Str("op", req.Description()).
		Int("items", req.Items()).
		Msg("run started")

	go e.work(run, adapter)
	return run, nil
}

func (e *Engine) work(r *Run, a backend.Adapter) {
	defer func() {
		r.finish()
		e.Log.Info().
			Str("op", r.req.Description()).
			Int64("itemsDone", r.itemsDone.Load()).
			Int64("bytes", r.bytesDone.Load()).
			Bool("canceled", r.canceling.Load()).
			Msg("run finished")
	}()

	switch r.req.Op {
	case OpCopyMove:
		e.runCopyMove(r, a)
	case OpTrash:
		e.runTrash(r, a)
	case OpDelete:
		e.runDelete(r, a)
	case OpExtract:
		e.runExtract(r)
	}
}

// scanTotal walks all local sources summing regular-file sizes. Remote
// sources skip the scan entirely because remote enumeration can be
// arbitrarily slow, leaving the total unknown.
func (e *Engine) scanTotal(r *Run) (int64, error) {
	if r.req.anyRemote() {
		return 0, nil
	}

	var total int64
	for _, src := range r.req.Sources {
		n, err := scanPath(r.ctx, src.Path())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return 0, err
			}
			continue // unreadable sources just drop out of the estimate
		}
		total += n
	}
	return total, nil
}

// scanPath sums file sizes under root iteratively with an explicit
// stack, checking for cancellation between directories.
func scanPath(ctx context.Context, root string) (int64, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return 0, err
	}
	if info.Mode().IsRegular() {
		return info.Size(), nil
	}
	if !info.IsDir() {
		return 0, nil
	}

	var total int64
	stack := []string{root}

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			child, err := entry.Info()
			if err != nil {
				continue
			}
			switch {
			case child.IsDir():
				stack = append(stack, filepath.Join(dir, entry.Name()))
			case child.Mode().IsRegular():
				total += child.Size()
			}
		}
	}
	return total, nil
}

func (e *Engine) runCopyMove(r *Run, a backend.Adapter) {
	total, err := e.scanTotal(r)
	if err != nil {
		return
	}
	r.publishScan(total)

	prog := backend.Progress{Bytes: r.addBytes, Label: r.setLabel}

	for _, src := range r.req.Sources {
		if r.ctx.Err() != nil {
			return
		}

		exists, err := a.Exists(r.ctx, src)
		if err == nil && !exists {
			// Source vanished between submission and execution.
			r.itemDone()
			continue
		}

		dst, ok := e.resolveConflict(r, a, src)
		if !ok {
			if r.ctx.Err() != nil {
				return
			}
			r.itemDone() // skipped
			continue
		}

		var opErr error
		if r.req.Move {
			opErr = a.Move(r.ctx, src, dst, prog)
		} else {
			opErr = a.Copy(r.ctx, src, dst, prog)
		}

		if errors.Is(opErr, context.Canceled) {
			return
		}
		if opErr != nil {
			if !e.askContinue(r, src, dst, opErr) {
				return
			}
		}
		r.itemDone()
	}
}

// resolveConflict loops until the destination name is free or the
// decision says to overwrite. Returns ok=false when the item is skipped
// or the run canceled.
func (e *Engine) resolveConflict(r *Run, a backend.Adapter, src pathaddr.Address) (pathaddr.Address, bool) {
	dst := r.req.Dest.Join(src.Basename())

	for {
		exists, err := a.Exists(r.ctx, dst)
		if err != nil || !exists {
			return dst, true
		}

		d, askErr := r.ask(&Prompt{Kind: PromptConflict, Source: src, Dest: dst})
		if askErr != nil {
			return dst, false
		}

		switch d.Conflict {
		case ConflictOverwrite:
			return dst, true
		case ConflictSkip:
			return dst, false
		case ConflictRename:
			dst = r.req.Dest.Join(d.RenameTo)
		case ConflictCancel:
			r.Cancel()
			return dst, false
		}
	}
}

// askContinue raises an error prompt. It returns false when the answer
// is to stop, after canceling the run.
func (e *Engine) askContinue(r *Run, src, dst pathaddr.Address, cause error) bool {
	e.Log.Warn().
		Str("source", src.String()).
		Err(cause).
		Msg("item failed")

	d, err := r.ask(&Prompt{
		Kind:    PromptError,
		Source:  src,
		Dest:    dst,
		Message: cause.Error(),
	})
	if err != nil {
		return false
	}
	if !d.Continue {
		r.Cancel()
		return false
	}
	return true
}

func (e *Engine) runTrash(r *Run, a backend.Adapter) {
	r.publishScan(0)

	for _, src := range r.req.Sources {
		if r.ctx.Err() != nil {
			return
		}
		r.setLabel(src.Basename())

		err := a.Trash(r.ctx, src)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			if !e.handleTrashFailure(r, a, src, err) {
				return
			}
		}
		r.itemDone()
	}
}

// handleTrashFailure raises the three-way trash prompt. A permanent
// delete that itself fails raises a second, plain error prompt. Returns
// false when the run should stop.
func (e *Engine) handleTrashFailure(r *Run, a backend.Adapter, src pathaddr.Address, cause error) bool {
	d, err := r.ask(&Prompt{
		Kind:    PromptTrashFailed,
		Source:  src,
		Message: cause.Error(),
	})
	if err != nil {
		return false
	}

	switch d.Trash {
	case TrashDeletePermanently:
		delErr := a.Delete(r.ctx, src)
		if errors.Is(delErr, context.Canceled) {
			return false
		}
		if delErr != nil {
			return e.askContinue(r, src, pathaddr.Address{}, delErr)
		}
		return true
	case TrashSkip:
		return true
	case TrashCancel:
		r.Cancel()
		return false
	}
	return true
}

func (e *Engine) runDelete(r *Run, a backend.Adapter) {
	r.publishScan(0)

	for _, src := range r.req.Sources {
		if r.ctx.Err() != nil {
			return
		}
		r.setLabel(src.Basename())

		err := a.Delete(r.ctx, src)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			if !e.askContinue(r, src, pathaddr.Address{}, err) {
				return
			}
		}
		r.itemDone()
	}
}

// runExtract shells out to the extractor command. There is no byte
// progress to report, so the run stays in the unknown-total state for
// its whole duration.
func (e *Engine) runExtract(r *Run) {
	r.publishScan(0)

	argv := r.req.Argv
	r.setLabel(filepath.Base(argv[len(argv)-1]))

	cmd := exec.CommandContext(r.ctx, argv[0], argv[1:]...)
	if !r.req.Dest.IsZero() && !r.req.Dest.IsRemote() {
		cmd.Dir = r.req.Dest.Path()
	}

	out, err := cmd.CombinedOutput()
	if r.ctx.Err() != nil {
		return
	}
	if err != nil {
		msg := err.Error()
		if len(out) > 0 {
			msg = msg + ": " + string(out)
		}
		if !e.askContinue(r, pathaddr.Local(argv[len(argv)-1]), pathaddr.Address{}, errors.New(msg)) {
			return
		}
	}
	r.itemDone()
}
