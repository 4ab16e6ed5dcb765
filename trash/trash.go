// Package trash implements the freedesktop.org trash layout used for the
// local "move to trash" operation: trashed items live under <root>/files and
// each carries a <root>/info/<name>.trashinfo sidecar recording the original
// path and deletion time.
package trash

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	infoHeader = "[Trash Info]"
	timeFormat = "2006-01-02T15:04:05"
)

// Bin is a single trash directory.
type Bin struct {
	root     string
	filesDir string
	infoDir  string
}

// New opens (creating if needed) a trash directory rooted at root.
func New(root string) (*Bin, error) {
	b := &Bin{
		root:     root,
		filesDir: filepath.Join(root, "files"),
		infoDir:  filepath.Join(root, "info"),
	}
	for _, dir := range []string{b.filesDir, b.infoDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create trash directory %s: %w", dir, err)
		}
	}
	return b, nil
}

// Default opens the user's home trash ($XDG_DATA_HOME/Trash or
// ~/.local/share/Trash).
func Default() (*Bin, error) {
	data := os.Getenv("XDG_DATA_HOME")
	if data == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home trash: %w", err)
		}
		data = filepath.Join(home, ".local", "share")
	}
	return New(filepath.Join(data, "Trash"))
}

// Root returns the trash directory root.
func (b *Bin) Root() string { return b.root }

// Put moves src into the trash. The .trashinfo sidecar is written first so a
// crash never leaves an orphaned payload without provenance.
func (b *Bin) Put(src string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("trash %s: %w", src, err)
	}
	if _, err := os.Lstat(abs); err != nil {
		return fmt.Errorf("trash %s: %w", src, err)
	}

	name := b.uniqueName(filepath.Base(abs))
	infoPath := filepath.Join(b.infoDir, name+".trashinfo")
	info := Info{Path: abs, DeletionDate: time.Now()}
	if err := info.save(infoPath); err != nil {
		return fmt.Errorf("trash %s: %w", src, err)
	}

	if err := moveAcrossDevices(abs, filepath.Join(b.filesDir, name)); err != nil {
		os.Remove(infoPath)
		return fmt.Errorf("trash %s: %w", src, err)
	}
	return nil
}

// List returns the info records of everything currently in the bin.
func (b *Bin) List() ([]Info, error) {
	entries, err := os.ReadDir(b.infoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".trashinfo") {
			continue
		}
		f, err := os.Open(filepath.Join(b.infoDir, e.Name()))
		if err != nil {
			continue
		}
		info, err := ParseInfo(f)
		f.Close()
		if err != nil {
			continue
		}
		info.TrashedName = strings.TrimSuffix(e.Name(), ".trashinfo")
		infos = append(infos, info)
	}
	return infos, nil
}

// uniqueName finds a name not yet taken in either files/ or info/.
func (b *Bin) uniqueName(base string) string {
	name := base
	for counter := 1; ; counter++ {
		_, errInfo := os.Lstat(filepath.Join(b.infoDir, name+".trashinfo"))
		_, errFile := os.Lstat(filepath.Join(b.filesDir, name))
		if os.IsNotExist(errInfo) && os.IsNotExist(errFile) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, counter)
	}
}

// Info is the contents of a .trashinfo sidecar.
type Info struct {
	// Path is the original absolute path of the trashed item.
	Path string

	// DeletionDate is when the item was moved to trash (local time).
	DeletionDate time.Time

	// TrashedName is the name the item carries inside files/ (set by List).
	TrashedName string
}

func (i Info) save(path string) error {
	var content strings.Builder
	fmt.Fprintln(&content, infoHeader)
	fmt.Fprintf(&content, "Path=%s\n", encodePath(i.Path))
	fmt.Fprintf(&content, "DeletionDate=%s\n", i.DeletionDate.Format(timeFormat))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create info file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content.String()); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write info file: %w", err)
	}
	return nil
}

// ParseInfo reads a .trashinfo record.
func ParseInfo(r io.Reader) (Info, error) {
	var info Info
	var headerFound bool

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == infoHeader {
			headerFound = true
			continue
		}
		if !headerFound {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Path":
			p, err := url.QueryUnescape(strings.TrimSpace(value))
			if err != nil {
				return Info{}, fmt.Errorf("invalid Path encoding: %w", err)
			}
			info.Path = p
		case "DeletionDate":
			d, err := time.ParseInLocation(timeFormat, strings.TrimSpace(value), time.Local)
			if err != nil {
				return Info{}, fmt.Errorf("invalid DeletionDate: %w", err)
			}
			info.DeletionDate = d
		}
	}
	if err := scanner.Err(); err != nil {
		return Info{}, fmt.Errorf("error reading info file: %w", err)
	}
	if !headerFound {
		return Info{}, fmt.Errorf("missing %s header", infoHeader)
	}
	if info.Path == "" {
		return Info{}, fmt.Errorf("missing Path field")
	}
	return info, nil
}

// encodePath percent-encodes a path for a .trashinfo file: slashes are kept,
// spaces become %20 (never "+").
func encodePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		words := strings.Split(part, " ")
		for j, w := range words {
			words[j] = url.QueryEscape(w)
		}
		parts[i] = strings.Join(words, "%20")
	}
	return strings.Join(parts, "/")
}

// moveAcrossDevices renames src to dst, copying and deleting when the trash
// directory lives on a different filesystem.
func moveAcrossDevices(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyAll(src, dst); err != nil {
		os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}

func copyAll(src, dst string) error {
	st, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case st.IsDir():
		if err := os.MkdirAll(dst, st.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyAll(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, st.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
}
