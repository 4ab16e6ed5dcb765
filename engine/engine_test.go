package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrydev/fileops/backend"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/vfs"
)

func newTestEngine() *Engine {
	reg := vfs.NewRegistry(vfs.NewLocalFS(nil))
	return New(reg, nil, zerolog.Nop())
}

// servePrompts answers every prompt the run raises with serve's result,
// until the run finishes.
func servePrompts(r *Run, serve func(*Prompt) Decision) {
	go func() {
		for {
			select {
			case <-r.Done():
				return
			default:
			}
			if p := r.PendingPrompt(); p != nil {
				p.Reply(serve(p))
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}()
}

func waitRun(t *testing.T, r *Run) Snapshot {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	return r.Snapshot()
}

func TestCopyFileAndDirectory(t *testing.T) {
	e := newTestEngine()
	srcDir, dstDir := t.TempDir(), t.TempDir()

	file1 := filepath.Join(srcDir, "file1.txt")
	if err := os.WriteFile(file1, make([]byte, 1000), 0644); err != nil {
		t.Fatal(err)
	}
	subdir := filepath.Join(srcDir, "subdir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(subdir, "inner.txt"), make([]byte, 500), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(file1), pathaddr.Local(subdir)},
		Dest:    pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := waitRun(t, run)
	if snap.ItemsDone != 2 {
		t.Errorf("ItemsDone = %d, want 2", snap.ItemsDone)
	}
	if !snap.ScanDone || snap.TotalBytes != 1500 {
		t.Errorf("scan: done=%v total=%d, want done with 1500", snap.ScanDone, snap.TotalBytes)
	}
	if snap.BytesDone != 1500 {
		t.Errorf("BytesDone = %d, want 1500", snap.BytesDone)
	}
	if !snap.HasDir {
		t.Error("HasDir should be true when a source is a directory")
	}
	if snap.Canceling {
		t.Error("run reports canceling")
	}

	if _, err := os.Stat(filepath.Join(dstDir, "file1.txt")); err != nil {
		t.Errorf("file1 not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "subdir", "inner.txt")); err != nil {
		t.Errorf("subdir not copied: %v", err)
	}
}

func TestMoveRemovesSource(t *testing.T) {
	e := newTestEngine()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "m.txt")
	if err := os.WriteFile(src, []byte("move me"), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Move:    true,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatal(err)
	}
	waitRun(t, run)

	if _, err := os.Lstat(src); !os.IsNotExist(err) {
		t.Error("source still present after move")
	}
	got, err := os.ReadFile(filepath.Join(dstDir, "m.txt"))
	if err != nil || string(got) != "move me" {
		t.Errorf("destination = %q, err = %v", got, err)
	}
}

func TestConflictDecisions(t *testing.T) {
	cases := []struct {
		name     string
		decision Decision
		wantDst  string // expected content of the original destination name
		extra    string // extra file expected (rename target), empty for none
	}{
		{"skip", Decision{Conflict: ConflictSkip}, "old", ""},
		{"overwrite", Decision{Conflict: ConflictOverwrite}, "new", ""},
		{"rename", Decision{Conflict: ConflictRename, RenameTo: "foo2"}, "old", "foo2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine()
			srcDir, dstDir := t.TempDir(), t.TempDir()
			src := filepath.Join(srcDir, "foo")
			if err := os.WriteFile(src, []byte("new"), 0644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dstDir, "foo"), []byte("old"), 0644); err != nil {
				t.Fatal(err)
			}

			run, err := e.Start(context.Background(), Request{
				Op:      OpCopyMove,
				Sources: []pathaddr.Address{pathaddr.Local(src)},
				Dest:    pathaddr.Local(dstDir),
			})
			if err != nil {
				t.Fatal(err)
			}

			var prompted *Prompt
			servePrompts(run, func(p *Prompt) Decision {
				prompted = p
				return tc.decision
			})
			snap := waitRun(t, run)

			if prompted == nil {
				t.Fatal("no conflict prompt raised")
			}
			if prompted.Kind != PromptConflict {
				t.Errorf("prompt kind = %v", prompted.Kind)
			}
			if snap.ItemsDone != 1 {
				t.Errorf("ItemsDone = %d, want 1", snap.ItemsDone)
			}

			got, err := os.ReadFile(filepath.Join(dstDir, "foo"))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.wantDst {
				t.Errorf("destination content = %q, want %q", got, tc.wantDst)
			}
			if tc.extra != "" {
				got, err := os.ReadFile(filepath.Join(dstDir, tc.extra))
				if err != nil || string(got) != "new" {
					t.Errorf("renamed copy = %q, err = %v", got, err)
				}
			}
		})
	}
}

func TestConflictCancelStopsRun(t *testing.T) {
	e := newTestEngine()
	srcDir, dstDir := t.TempDir(), t.TempDir()

	for _, name := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte("s"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Both names collide at the destination.
	for _, name := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(dstDir, name), []byte("d"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	run, err := e.Start(context.Background(), Request{
		Op: OpCopyMove,
		Sources: []pathaddr.Address{
			pathaddr.Local(filepath.Join(srcDir, "a")),
			pathaddr.Local(filepath.Join(srcDir, "b")),
		},
		Dest: pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatal(err)
	}

	prompts := 0
	servePrompts(run, func(p *Prompt) Decision {
		prompts++
		return Decision{Conflict: ConflictCancel}
	})
	snap := waitRun(t, run)

	if prompts != 1 {
		t.Errorf("served %d prompts, want 1 (cancel stops the batch)", prompts)
	}
	if !snap.Canceling {
		t.Error("run should report canceling")
	}
	if snap.ItemsDone != 0 {
		t.Errorf("ItemsDone = %d, want 0", snap.ItemsDone)
	}
}

func TestCancelWakesWorkerBlockedOnPrompt(t *testing.T) {
	e := newTestEngine()
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "x")
	if err := os.WriteFile(src, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "x"), []byte("d"), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the worker to raise the prompt, then cancel instead of
	// answering it.
	deadline := time.Now().Add(5 * time.Second)
	var p *Prompt
	for p == nil && time.Now().Before(deadline) {
		p = run.PendingPrompt()
		time.Sleep(time.Millisecond)
	}
	if p == nil {
		t.Fatal("prompt never raised")
	}

	run.Cancel()
	snap := waitRun(t, run)
	if !snap.Canceling {
		t.Error("run should report canceling")
	}
}

func TestMissingSourceCountsDone(t *testing.T) {
	e := newTestEngine()
	dstDir := t.TempDir()

	run, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(filepath.Join(t.TempDir(), "ghost"))},
		Dest:    pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := waitRun(t, run)
	if snap.ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1 for a vanished source", snap.ItemsDone)
	}
}

func TestDeleteRun(t *testing.T) {
	e := newTestEngine()
	dir := t.TempDir()
	victim := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(victim, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(victim, "sub", "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "already-gone")

	run, err := e.Start(context.Background(), Request{
		Op:      OpDelete,
		Sources: []pathaddr.Address{pathaddr.Local(victim), pathaddr.Local(missing)},
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := waitRun(t, run)

	if snap.ItemsDone != 2 {
		t.Errorf("ItemsDone = %d, want 2 (missing path deletes as a no-op)", snap.ItemsDone)
	}
	if _, err := os.Lstat(victim); !os.IsNotExist(err) {
		t.Error("tree still present")
	}
}

func TestTrashFailurePermanentDelete(t *testing.T) {
	// A registry without a trash bin makes every Trash fail, driving
	// the three-way prompt.
	e := newTestEngine()
	victim := filepath.Join(t.TempDir(), "no-bin")
	if err := os.WriteFile(victim, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := e.Start(context.Background(), Request{
		Op:      OpTrash,
		Sources: []pathaddr.Address{pathaddr.Local(victim)},
	})
	if err != nil {
		t.Fatal(err)
	}

	var kind PromptKind
	servePrompts(run, func(p *Prompt) Decision {
		kind = p.Kind
		return Decision{Trash: TrashDeletePermanently}
	})
	snap := waitRun(t, run)

	if kind != PromptTrashFailed {
		t.Errorf("prompt kind = %v, want PromptTrashFailed", kind)
	}
	if snap.ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1", snap.ItemsDone)
	}
	if _, err := os.Lstat(victim); !os.IsNotExist(err) {
		t.Error("file survived permanent delete")
	}
}

func TestTrashFailureSkipKeepsFile(t *testing.T) {
	e := newTestEngine()
	victim := filepath.Join(t.TempDir(), "kept")
	if err := os.WriteFile(victim, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	run, err := e.Start(context.Background(), Request{
		Op:      OpTrash,
		Sources: []pathaddr.Address{pathaddr.Local(victim)},
	})
	if err != nil {
		t.Fatal(err)
	}
	servePrompts(run, func(p *Prompt) Decision {
		return Decision{Trash: TrashSkip}
	})
	snap := waitRun(t, run)

	if snap.ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1", snap.ItemsDone)
	}
	if _, err := os.Lstat(victim); err != nil {
		t.Errorf("skipped file should survive: %v", err)
	}
}

func TestPreflightRejectsBadDestination(t *testing.T) {
	e := newTestEngine()
	src := filepath.Join(t.TempDir(), "s")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Missing destination directory.
	_, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(filepath.Join(t.TempDir(), "nope")),
	})
	if !errors.Is(err, backend.ErrNotADirectory) {
		t.Errorf("missing destination: got %v", err)
	}

	// Destination is a file.
	_, err = e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(src)},
		Dest:    pathaddr.Local(src),
	})
	if !errors.Is(err, backend.ErrNotADirectory) {
		t.Errorf("file destination: got %v", err)
	}
}

func TestPreflightRejectsDestinationInsideSource(t *testing.T) {
	e := newTestEngine()
	srcRoot := filepath.Join(t.TempDir(), "tree")
	inner := filepath.Join(srcRoot, "inner")
	if err := os.MkdirAll(inner, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := e.Start(context.Background(), Request{
		Op:      OpCopyMove,
		Sources: []pathaddr.Address{pathaddr.Local(srcRoot)},
		Dest:    pathaddr.Local(inner),
	})
	if !errors.Is(err, backend.ErrDestinationInsideSource) {
		t.Errorf("got %v, want ErrDestinationInsideSource", err)
	}
}

func TestExtractRun(t *testing.T) {
	e := newTestEngine()
	dstDir := t.TempDir()

	run, err := e.Start(context.Background(), Request{
		Op:   OpExtract,
		Argv: []string{"touch", "extracted.flag"},
		Dest: pathaddr.Local(dstDir),
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := waitRun(t, run)

	if snap.ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1", snap.ItemsDone)
	}
	if !snap.ScanDone || snap.TotalBytes != 0 {
		t.Errorf("extract should publish an unknown total immediately")
	}
	if _, err := os.Stat(filepath.Join(dstDir, "extracted.flag")); err != nil {
		t.Errorf("extractor did not run in destination: %v", err)
	}
}

func TestExtractFailureRaisesErrorPrompt(t *testing.T) {
	e := newTestEngine()

	run, err := e.Start(context.Background(), Request{
		Op:   OpExtract,
		Argv: []string{"false"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var kind PromptKind
	servePrompts(run, func(p *Prompt) Decision {
		kind = p.Kind
		return Decision{Continue: true}
	})
	snap := waitRun(t, run)

	if kind != PromptError {
		t.Errorf("prompt kind = %v, want PromptError", kind)
	}
	if snap.ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1 after continuing", snap.ItemsDone)
	}
}

func TestRequestValidate(t *testing.T) {
	dest := pathaddr.Local("/tmp")
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no sources", Request{Op: OpCopyMove, Dest: dest}, ErrNoSources},
		{"no dest", Request{Op: OpCopyMove, Sources: []pathaddr.Address{pathaddr.Local("/a")}}, ErrNoDestination},
		{"bare scheme dest", Request{Op: OpCopyMove, Sources: []pathaddr.Address{pathaddr.Local("/a")}, Dest: pathaddr.Parse("smb://")}, pathaddr.ErrBareScheme},
		{"no command", Request{Op: OpExtract}, ErrNoCommand},
		{"delete no sources", Request{Op: OpDelete}, ErrNoSources},
		{"ok", Request{Op: OpTrash, Sources: []pathaddr.Address{pathaddr.Local("/a")}}, nil},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate() = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestRequestDescription(t *testing.T) {
	req := Request{
		Op:      OpCopyMove,
		Move:    true,
		Sources: []pathaddr.Address{pathaddr.Local("/a")},
		Dest:    pathaddr.Local("/b"),
	}
	if got := req.Description(); got != "Move 1 item to /b" {
		t.Errorf("Description() = %q", got)
	}
}
