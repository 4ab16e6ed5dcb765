package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
	"github.com/quarrydev/fileops/progress"
)

func TestHandlerBlocksUntilAnswered(t *testing.T) {
	msgs := make(chan tea.Msg, 1)
	h := &Handler{send: func(m tea.Msg) { msgs <- m }}

	got := make(chan engine.ConflictChoice, 1)
	go func() {
		choice, name := h.ResolveConflict(pathaddr.Local("/a"), pathaddr.Local("/b/a"))
		if name != "a2" {
			t.Errorf("rename name = %q, want a2", name)
		}
		got <- choice
	}()

	var req conflictMsg
	select {
	case m := <-msgs:
		var ok bool
		req, ok = m.(conflictMsg)
		if !ok {
			t.Fatalf("sent message is %T, want conflictMsg", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never sent the prompt")
	}

	select {
	case <-got:
		t.Fatal("handler returned before a reply was given")
	case <-time.After(20 * time.Millisecond):
	}

	req.reply <- conflictAnswer{choice: engine.ConflictRename, name: "a2"}
	select {
	case choice := <-got:
		if choice != engine.ConflictRename {
			t.Fatalf("choice = %v, want rename", choice)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never returned after reply")
	}
}

func TestHandlerErrorAndTrash(t *testing.T) {
	msgs := make(chan tea.Msg, 1)
	h := &Handler{send: func(m tea.Msg) { msgs <- m }}

	go func() {
		m := (<-msgs).(errorMsg)
		m.reply <- false
	}()
	if h.ResolveError(pathaddr.Local("/x"), "boom") {
		t.Fatal("ResolveError = true, want false")
	}

	go func() {
		m := (<-msgs).(trashMsg)
		m.reply <- engine.TrashDeletePermanently
	}()
	if got := h.ResolveTrashFailure(pathaddr.Local("/x"), "no bin"); got != engine.TrashDeletePermanently {
		t.Fatalf("ResolveTrashFailure = %v, want delete permanently", got)
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := formatSpeed(0); got != "" {
		t.Fatalf("formatSpeed(0) = %q, want empty", got)
	}
	if got := formatSpeed(2 * 1024 * 1024); got == "" {
		t.Fatal("formatSpeed returned empty for a positive rate")
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{progress.RemainingUnknown, ""},
		{30 * time.Second, "30s left"},
		{90 * time.Second, "1m30s left"},
		{2*time.Hour + 5*time.Minute, "2h05m left"},
	}
	for _, c := range cases {
		if got := formatRemaining(c.d); got != c.want {
			t.Errorf("formatRemaining(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
