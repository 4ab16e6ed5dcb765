// Package controller serializes operation execution: at most one run is
// active at any instant, everything else waits in a FIFO queue and
// starts automatically when the active run completes. It also polls the
// active run for pending prompts and answers them through a
// DecisionHandler.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/progress"
)

// DefaultPollInterval matches a 10 Hz sampling cadence.
const DefaultPollInterval = 100 * time.Millisecond

// DecisionHandler answers the prompts a run raises. Implementations
// present the question however they like (dialog, terminal prompt) and
// return synchronously.
type DecisionHandler interface {
	// ResolveConflict picks what to do about an existing destination.
	// The returned name is only read for ConflictRename.
	ResolveConflict(src, dst pathaddr.Address) (engine.ConflictChoice, string)

	// ResolveError reports whether the run should continue after an
	// item failed.
	ResolveError(src pathaddr.Address, message string) bool

	// ResolveTrashFailure picks what to do about an item that could
	// not be trashed.
	ResolveTrashFailure(src pathaddr.Address, message string) engine.TrashChoice
}

// Direction moves a queued entry.
type Direction int

const (
	ToFront Direction = iota
	Up
	Down
)

// QueueEntry describes one waiting operation.
type QueueEntry struct {
	ID          uint64
	Description string
	Items       int
}

type queued struct {
	id  uint64
	req engine.Request
}

type activeRun struct {
	id  uint64
	run *engine.Run
}

// Controller owns the operation queue and the single active run.
type Controller struct {
	eng      *engine.Engine
	handler  DecisionHandler
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	nextID   uint64
	active   *activeRun
	queue    []queued
	reporter *progress.Reporter
}

// New builds a controller. interval <= 0 uses DefaultPollInterval.
func New(eng *engine.Engine, handler DecisionHandler, interval time.Duration, log zerolog.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Controller{
		eng:      eng,
		handler:  handler,
		interval: interval,
		log:      log,
	}
}

// Submit starts the request immediately when nothing is running, or
// queues it otherwise. The returned id identifies the operation in
// queue listings. A request that fails its pre-flight checks returns
// the error and consumes no id slot in the queue.
func (c *Controller) Submit(req engine.Request) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	if c.active == nil {
		if err := c.startLocked(id, req); err != nil {
			return 0, err
		}
		return id, nil
	}

	c.queue = append(c.queue, queued{id: id, req: req})
	c.log.Info().Uint64("id", id).Str("op", req.Description()).Msg("operation queued")
	return id, nil
}

// startLocked launches a run and its monitor goroutine. Caller holds mu.
func (c *Controller) startLocked(id uint64, req engine.Request) error {
	run, err := c.eng.Start(context.Background(), req)
	if err != nil {
		return err
	}
	c.active = &activeRun{id: id, run: run}
	c.reporter = progress.NewReporter()
	go c.monitor(id, run)
	return nil
}

// monitor ticks at the poll interval, serving at most one prompt per
// tick, until the run completes. Completion dequeues and starts the
// next request exactly once.
func (c *Controller) monitor(id uint64, run *engine.Run) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p := run.PendingPrompt(); p != nil {
				c.serve(p)
			}
		case <-run.Done():
			c.complete(id)
			return
		}
	}
}

// serve produces a decision for one prompt. With no handler installed,
// the conservative defaults are skip-and-stop.
func (c *Controller) serve(p *engine.Prompt) {
	if c.handler == nil {
		p.Reply(engine.Decision{Conflict: engine.ConflictSkip, Trash: engine.TrashSkip})
		return
	}

	switch p.Kind {
	case engine.PromptConflict:
		choice, name := c.handler.ResolveConflict(p.Source, p.Dest)
		p.Reply(engine.Decision{Conflict: choice, RenameTo: name})
	case engine.PromptError:
		p.Reply(engine.Decision{Continue: c.handler.ResolveError(p.Source, p.Message)})
	case engine.PromptTrashFailed:
		p.Reply(engine.Decision{Trash: c.handler.ResolveTrashFailure(p.Source, p.Message)})
	}
}

// complete clears the active slot and starts the next queued request.
// The id guard makes completion idempotent if it races a Submit that
// already moved the queue along.
func (c *Controller) complete(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.id != id {
		return
	}
	c.active = nil
	c.reporter = nil

	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.startLocked(next.id, next.req); err != nil {
			c.log.Error().Uint64("id", next.id).Err(err).Msg("queued operation failed to start")
			continue
		}
		return
	}
}

// Poll samples the active run, or returns nil when idle.
func (c *Controller) Poll() *progress.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil
	}
	m := c.reporter.Sample(c.active.run.Snapshot())
	return &m
}

// ActiveID returns the id of the running operation, or 0.
func (c *Controller) ActiveID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	return c.active.id
}

// QueueSnapshot lists the waiting operations in execution order.
func (c *Controller) QueueSnapshot() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]QueueEntry, 0, len(c.queue))
	for _, q := range c.queue {
		entries = append(entries, QueueEntry{
			ID:          q.id,
			Description: q.req.Description(),
			Items:       q.req.Items(),
		})
	}
	return entries
}

// CancelActive asks the running operation to stop. The queue is not
// touched; the next entry starts when the canceled run winds down.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.run.Cancel()
	}
}

// CancelQueued drops a waiting operation. Unknown ids are ignored.
func (c *Controller) CancelQueued(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q.id == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// Reorder moves a queued entry. Unknown ids and no-op moves are ignored.
func (c *Controller) Reorder(id uint64, dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, q := range c.queue {
		if q.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	switch dir {
	case ToFront:
		entry := c.queue[idx]
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		c.queue = append([]queued{entry}, c.queue...)
	case Up:
		if idx > 0 {
			c.queue[idx-1], c.queue[idx] = c.queue[idx], c.queue[idx-1]
		}
	case Down:
		if idx < len(c.queue)-1 {
			c.queue[idx+1], c.queue[idx] = c.queue[idx], c.queue[idx+1]
		}
	}
}

// ClearQueue drops every waiting operation. The active run keeps going.
func (c *Controller) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
}

// Idle reports that nothing is running and nothing is queued.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == nil && len(c.queue) == 0
}
