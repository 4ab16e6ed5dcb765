package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrydev/fileops/pathaddr"
)

// PromptKind says why a run suspended.
type PromptKind int

const (
	// PromptConflict: the destination already exists.
	PromptConflict PromptKind = iota
	// PromptError: an item failed and the run wants to know whether to
	// continue with the remaining items.
	PromptError
	// PromptTrashFailed: an item could not be trashed; the choices are
	// permanent delete, skip, or cancel.
	PromptTrashFailed
)

// ConflictChoice answers a PromptConflict.
type ConflictChoice int

const (
	ConflictOverwrite ConflictChoice = iota
	ConflictSkip
	ConflictRename
	ConflictCancel
)

// TrashChoice answers a PromptTrashFailed.
type TrashChoice int

const (
	TrashDeletePermanently TrashChoice = iota
	TrashSkip
	TrashCancel
)

// Decision carries the answer to a prompt. Only the fields matching the
// prompt's kind are read: Conflict and RenameTo for PromptConflict,
// Continue for PromptError, Trash for PromptTrashFailed.
type Decision struct {
	Conflict ConflictChoice
	RenameTo string
	Continue bool
	Trash    TrashChoice
}

// Prompt is one suspended question from a run's worker. The worker
// blocks until Reply is called or the run is canceled.
type Prompt struct {
	Kind    PromptKind
	Source  pathaddr.Address
	Dest    pathaddr.Address
	Message string

	reply chan Decision
}

// Reply delivers the decision and wakes the worker. It must be called
// at most once per prompt.
func (p *Prompt) Reply(d Decision) {
	p.reply <- d
}

// Snapshot is a point-in-time copy of a run's observable state, safe to
// read from any goroutine.
type Snapshot struct {
	Op   Op
	Move bool

	ItemsDone  int64
	TotalItems int
	BytesDone  int64

	// ScanDone reports that TotalBytes is final. TotalBytes stays 0
	// when the total is unknown, which is not the same as empty.
	ScanDone   bool
	TotalBytes int64

	Label     string
	Finished  bool
	Canceling bool

	// HasDir reports that at least one source was a directory, so the
	// caller knows a structural refresh is needed afterward.
	HasDir bool

	Started time.Time
}

// Run is the shared state of one executing request. The worker
// goroutine updates it; any other goroutine may sample it.
type Run struct {
	req Request

	ctx    context.Context
	cancel context.CancelFunc

	itemsDone atomic.Int64
	bytesDone atomic.Int64
	canceling atomic.Bool

	mu         sync.Mutex
	label      string
	scanDone   bool
	totalBytes int64
	finished   bool
	hasDir     bool

	started time.Time
	prompts chan *Prompt
	done    chan struct{}
}

func newRun(ctx context.Context, req Request, hasDir bool) *Run {
	ctx, cancel := context.WithCancel(ctx)
	return &Run{
		req:     req,
		ctx:     ctx,
		cancel:  cancel,
		hasDir:  hasDir,
		started: time.Now(),
		prompts: make(chan *Prompt, 1),
		done:    make(chan struct{}),
	}
}

// Request returns the request this run executes.
func (r *Run) Request() Request { return r.req }

// Cancel asks the run to stop. It also wakes a worker blocked on a
// prompt, so cancellation never waits for a decision.
func (r *Run) Cancel() {
	r.canceling.Store(true)
	r.cancel()
}

// Done is closed when the worker has fully stopped.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run has fully stopped.
func (r *Run) Wait() { <-r.done }

// PendingPrompt returns a prompt waiting for a decision, or nil. The
// caller owns the returned prompt and must eventually Reply to it.
func (r *Run) PendingPrompt() *Prompt {
	select {
	case p := <-r.prompts:
		return p
	default:
		return nil
	}
}

// Snapshot samples the run's state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	label := r.label
	scanDone := r.scanDone
	totalBytes := r.totalBytes
	finished := r.finished
	hasDir := r.hasDir
	r.mu.Unlock()

	return Snapshot{
		Op:         r.req.Op,
		Move:       r.req.Move,
		ItemsDone:  r.itemsDone.Load(),
		TotalItems: r.req.Items(),
		BytesDone:  r.bytesDone.Load(),
		ScanDone:   scanDone,
		TotalBytes: totalBytes,
		Label:      label,
		Finished:   finished,
		Canceling:  r.canceling.Load(),
		HasDir:     hasDir,
		Started:    r.started,
	}
}

func (r *Run) addBytes(n int64) { r.bytesDone.Add(n) }

func (r *Run) itemDone() { r.itemsDone.Add(1) }

func (r *Run) setLabel(s string) {
	r.mu.Lock()
	r.label = s
	r.mu.Unlock()
}

func (r *Run) publishScan(total int64) {
	r.mu.Lock()
	r.scanDone = true
	r.totalBytes = total
	r.mu.Unlock()
}

func (r *Run) finish() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	r.cancel()
	close(r.done)
}

// ask suspends the worker on a prompt until the driving side replies.
// A cancel during the wait returns the context error instead.
func (r *Run) ask(p *Prompt) (Decision, error) {
	p.reply = make(chan Decision, 1)

	select {
	case r.prompts <- p:
	case <-r.ctx.Done():
		return Decision{}, r.ctx.Err()
	}

	select {
	case d := <-p.reply:
		return d, nil
	case <-r.ctx.Done():
		return Decision{}, r.ctx.Err()
	}
}
