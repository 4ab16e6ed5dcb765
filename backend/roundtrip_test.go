package backend

import (
	"context"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/quarrydev/fileops/pathaddr"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// treeFingerprint walks a tree and returns one line per entry covering
// name, kind, size, symlink target and content checksum, so two trees
// compare structurally by comparing the slices.
func treeFingerprint(t *testing.T, root string) []string {
	t.Helper()
	var lines []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("link %s -> %s", rel, target))
		case info.IsDir():
			lines = append(lines, fmt.Sprintf("dir  %s", rel))
		default:
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			h := crc64.New(crcTable)
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("file %s size=%d crc=%x", rel, info.Size(), h.Sum64()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fingerprint walk failed: %v", err)
	}

	sort.Strings(lines)
	return lines
}

func TestCopyTreeRoundTrip(t *testing.T) {
	l := newLocalAdapter(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "orig")
	for _, dir := range []string{"docs", "docs/drafts", "empty"} {
		if err := os.MkdirAll(filepath.Join(src, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(src, "docs", "notes.txt"), []byte("some notes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "docs", "drafts", "wip.md"), make([]byte, 9000), 0600); err != nil {
		t.Fatal(err)
	}
	// Zero-byte file and a symlink round-trip too.
	if err := os.WriteFile(filepath.Join(src, "empty.dat"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("docs/notes.txt", filepath.Join(src, "latest")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := l.Copy(ctx, pathaddr.Local(src), pathaddr.Local(dst), Progress{}); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	want := treeFingerprint(t, src)
	got := treeFingerprint(t, dst)

	if len(want) != len(got) {
		t.Fatalf("entry count differs: src %d, dst %d\nsrc: %v\ndst: %v", len(want), len(got), want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("mismatch:\n src %s\n dst %s", want[i], got[i])
		}
	}
}

func TestRemoteCopyTreeRoundTrip(t *testing.T) {
	r, _ := newRemoteAdapter(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "orig")
	if err := os.MkdirAll(filepath.Join(src, "nested", "deep"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "deep", "f.bin"), make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "zero"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("zero", filepath.Join(src, "z-link")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := r.Copy(ctx, mockAddr(src), mockAddr(dst), Progress{}); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	want := treeFingerprint(t, src)
	got := treeFingerprint(t, dst)
	if len(want) != len(got) {
		t.Fatalf("entry count differs: src %d, dst %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("mismatch:\n src %s\n dst %s", want[i], got[i])
		}
	}
}
