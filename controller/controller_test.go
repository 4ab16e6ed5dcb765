package controller

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

// gateHandler blocks every conflict prompt on the gate channel, so a
// test can hold a run in the AwaitingDecision state deterministically.
type gateHandler struct {
	gate chan struct{}

	mu     sync.Mutex
	served []string
}

func (h *gateHandler) ResolveConflict(src, dst pathaddr.Address) (engine.ConflictChoice, string) {
	<-h.gate
	h.mu.Lock()
	h.served = append(h.served, src.Basename())
	h.mu.Unlock()
	return engine.ConflictSkip, ""
}

func (h *gateHandler) ResolveError(src pathaddr.Address, message string) bool { return true }

func (h *gateHandler) ResolveTrashFailure(src pathaddr.Address, message string) engine.TrashChoice {
	return engine.TrashSkip
}

func newTestController(t *testing.T, h DecisionHandler) *Controller {
	t.Helper()
	reg := vfs.NewRegistry(vfs.NewLocalFS(nil))
	eng := engine.New(reg, nil, zerolog.Nop())
	return New(eng, h, time.Millisecond, zerolog.Nop())
}

// blockingCopy submits a copy that immediately hits a conflict, pinning
// the run until the handler's gate opens.
func blockingCopy(t *testing.T, c *Controller, dir string) uint64 {
	t.Helper()
	src := filepath.Join(dir, "src", "pinned")
	dstDir := filepath.Join(dir, "dst")
	if err := os.MkdirAll(filepath.Dir(src), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "pinned"), []byte("d"), 0644); err != nil {
		t.Fatal(err)
	}

	id, err := c.Submit(engine.Request{
		Op:      engine.OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return id
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !c.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("controller never became idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentSubmitsQueueBehindSingleActiveRun(t *testing.T) {
	h := &gateHandler{gate: make(chan struct{})}
	c := newTestController(t, h)
	dir := t.TempDir()

	activeID := blockingCopy(t, c, dir)

	// N concurrent submits while the first run is pinned.
	const n = 8
	srcDir := filepath.Join(dir, "more")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := c.Submit(engine.Request{
				Op:      engine.OpCopyMove,
				Sources: []pathaddr.Address{pathaddr.Local(filepath.Join(srcDir, name))},
				Dest:    pathaddr.Local(outDir),
			})
			if err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}(name)
	}
	wg.Wait()

	if got := c.ActiveID(); got != activeID {
		t.Errorf("ActiveID = %d, want the pinned run %d", got, activeID)
	}
	snap := c.QueueSnapshot()
	if len(snap) != n {
		t.Fatalf("queue holds %d entries, want %d", len(snap), n)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].ID <= snap[i-1].ID {
			t.Errorf("queue ids not FIFO: %d before %d", snap[i-1].ID, snap[i].ID)
		}
	}

	close(h.gate)
	waitIdle(t, c)

	// Every queued copy ran exactly once.
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		got, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			t.Errorf("queued copy %q never ran: %v", name, err)
			continue
		}
		if string(got) != name {
			t.Errorf("copy %q content = %q", name, got)
		}
	}
}

func TestBackToBackSubmitsQueueSnapshot(t *testing.T) {
	h := &gateHandler{gate: make(chan struct{})}
	c := newTestController(t, h)
	dir := t.TempDir()

	blockingCopy(t, c, dir)

	src2 := filepath.Join(dir, "second.txt")
	if err := os.WriteFile(src2, []byte("2"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "dst2")
	if err := os.MkdirAll(out, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Submit(engine.Request{
		Op:      engine.OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src2)},
		Dest:    pathaddr.Local(out),
	}); err != nil {
		t.Fatal(err)
	}

	if got := len(c.QueueSnapshot()); got != 1 {
		t.Errorf("queue holds %d entries while first run active, want 1", got)
	}

	close(h.gate)
	waitIdle(t, c)

	if got := len(c.QueueSnapshot()); got != 0 {
		t.Errorf("queue holds %d entries after completion, want 0", got)
	}
	if _, err := os.Stat(filepath.Join(out, "second.txt")); err != nil {
		t.Errorf("second copy missing: %v", err)
	}
}

func TestQueueMutations(t *testing.T) {
	h := &gateHandler{gate: make(chan struct{})}
	c := newTestController(t, h)
	dir := t.TempDir()

	blockingCopy(t, c, dir)

	// Queue three quick deletes of nonexistent paths.
	var ids []uint64
	for i := 0; i < 3; i++ {
		id, err := c.Submit(engine.Request{
			Op:      engine.OpDelete,
			Sources: []pathaddr.Address{pathaddr.Local(filepath.Join(dir, "nothing"))},
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	queueIDs := func() []uint64 {
		var got []uint64
		for _, e := range c.QueueSnapshot() {
			got = append(got, e.ID)
		}
		return got
	}

	c.Reorder(ids[2], ToFront)
	if got := queueIDs(); got[0] != ids[2] || got[1] != ids[0] || got[2] != ids[1] {
		t.Errorf("after ToFront: %v", got)
	}

	c.Reorder(ids[2], Down)
	if got := queueIDs(); got[0] != ids[0] || got[1] != ids[2] {
		t.Errorf("after Down: %v", got)
	}

	c.Reorder(ids[2], Up)
	if got := queueIDs(); got[0] != ids[2] {
		t.Errorf("after Up: %v", got)
	}

	c.CancelQueued(ids[1])
	if got := queueIDs(); len(got) != 2 {
		t.Errorf("after CancelQueued: %v", got)
	}

	c.ClearQueue()
	if got := len(c.QueueSnapshot()); got != 0 {
		t.Errorf("after ClearQueue: %d entries", got)
	}

	close(h.gate)
	waitIdle(t, c)
}

func TestCancelActiveStartsNextQueued(t *testing.T) {
	h := &gateHandler{gate: make(chan struct{})}
	c := newTestController(t, h)
	dir := t.TempDir()

	blockingCopy(t, c, dir)

	src := filepath.Join(dir, "after.txt")
	if err := os.WriteFile(src, []byte("after"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "after-out")
	if err := os.MkdirAll(out, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Submit(engine.Request{
		Op:      engine.OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(out),
	}); err != nil {
		t.Fatal(err)
	}

	// Cancel wakes the worker blocked on the unanswered prompt. The
	// gate opens too so a monitor stuck serving the stale prompt can
	// wind down.
	c.CancelActive()
	close(h.gate)
	waitIdle(t, c)

	if _, err := os.Stat(filepath.Join(out, "after.txt")); err != nil {
		t.Errorf("queued operation did not start after cancel: %v", err)
	}
}

func TestPollReportsActiveRun(t *testing.T) {
	h := &gateHandler{gate: make(chan struct{})}
	c := newTestController(t, h)
	dir := t.TempDir()

	if m := c.Poll(); m != nil {
		t.Errorf("idle Poll() = %+v, want nil", m)
	}

	blockingCopy(t, c, dir)

	deadline := time.Now().Add(5 * time.Second)
	for {
		m := c.Poll()
		if m != nil && m.Snapshot.ScanDone {
			if m.Snapshot.TotalItems != 1 {
				t.Errorf("TotalItems = %d", m.Snapshot.TotalItems)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never observed a scanned snapshot")
		}
		time.Sleep(time.Millisecond)
	}

	close(h.gate)
	waitIdle(t, c)

	if m := c.Poll(); m != nil {
		t.Errorf("Poll after completion = %+v, want nil", m)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	c := newTestController(t, nil)
	if _, err := c.Submit(engine.Request{Op: engine.OpCopyMove}); err == nil {
		t.Error("expected validation error")
	}
	if !c.Idle() {
		t.Error("controller should stay idle after a rejected submit")
	}
}
