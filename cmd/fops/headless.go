package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/progress"
)

// stdinHandler answers decision prompts on the terminal when the TUI is
// disabled. Reads happen on the controller's monitor goroutine, so a
// slow answer simply pauses the run.
type stdinHandler struct {
	in *bufio.Scanner
}

func newStdinHandler() *stdinHandler {
	return &stdinHandler{in: bufio.NewScanner(os.Stdin)}
}

func (h *stdinHandler) prompt(text string) string {
	fmt.Fprintf(os.Stderr, "%s ", text)
	if !h.in.Scan() {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(h.in.Text()))
}

func (h *stdinHandler) ResolveConflict(src, dst pathaddr.Address) (engine.ConflictChoice, string) {
	for {
		answer := h.prompt(fmt.Sprintf("%q already exists. [o]verwrite, [s]kip, [r]ename, [c]ancel?", dst.Basename()))
		switch answer {
		case "o":
			return engine.ConflictOverwrite, ""
		case "s":
			return engine.ConflictSkip, ""
		case "r":
			if name := h.prompt("new name:"); name != "" {
				return engine.ConflictRename, name
			}
		case "c", "":
			return engine.ConflictCancel, ""
		}
	}
}

func (h *stdinHandler) ResolveError(src pathaddr.Address, message string) bool {
	for {
		answer := h.prompt(fmt.Sprintf("error on %q: %s. continue? [y/n]", src.Basename(), message))
		switch answer {
		case "y":
			return true
		case "n", "":
			return false
		}
	}
}

func (h *stdinHandler) ResolveTrashFailure(src pathaddr.Address, message string) engine.TrashChoice {
	for {
		answer := h.prompt(fmt.Sprintf("cannot trash %q: %s. [d]elete permanently, [s]kip, [c]ancel?", src.Basename(), message))
		switch answer {
		case "d":
			return engine.TrashDeletePermanently
		case "s":
			return engine.TrashSkip
		case "c", "":
			return engine.TrashCancel
		}
	}
}

func headlessStatus(m *progress.Metrics) string {
	s := m.Snapshot
	line := fmt.Sprintf("items %d/%d", s.ItemsDone, s.TotalItems)
	if s.TotalBytes > 0 {
		line += fmt.Sprintf(" %s/%s", humanize.Bytes(uint64(s.BytesDone)), humanize.Bytes(uint64(s.TotalBytes)))
	}
	if m.Speed > 0 {
		line += fmt.Sprintf(" %s/s", humanize.Bytes(uint64(m.Speed)))
	}
	if m.Remaining != progress.RemainingUnknown && m.Remaining >= 0 {
		line += fmt.Sprintf(" %s left", m.Remaining.Round(time.Second))
	}
	if s.Label != "" {
		line += " " + s.Label
	}
	return line
}
