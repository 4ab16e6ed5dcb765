package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quarrydev/fileops/engine"
	"github.com/quarrydev/fileops/pathaddr"
)

// conflictMsg asks the user about an existing destination.
type conflictMsg struct {
	src, dst pathaddr.Address
	reply    chan conflictAnswer
}

type conflictAnswer struct {
	choice engine.ConflictChoice
	name   string
}

// errorMsg asks whether to continue after an item failed.
type errorMsg struct {
	src     pathaddr.Address
	message string
	reply   chan bool
}

// trashMsg asks what to do about an item that could not be trashed.
type trashMsg struct {
	src     pathaddr.Address
	message string
	reply   chan engine.TrashChoice
}

// Handler bridges controller decisions into the running program: each
// question is sent as a message and the calling goroutine blocks until
// the user answers. The controller's monitor goroutine is the caller,
// never the UI loop itself, so the blocking is safe.
//
// The handler is created before the program (the controller needs it at
// construction time) and bound to the program once it exists.
type Handler struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func NewHandler() *Handler {
	return &Handler{}
}

// Bind points the handler at the running program.
func (h *Handler) Bind(p *tea.Program) {
	h.mu.Lock()
	h.send = p.Send
	h.mu.Unlock()
}

// dispatch sends msg to the program, or reports false when no program
// is bound yet so callers can fall back to a safe default.
func (h *Handler) dispatch(msg tea.Msg) bool {
	h.mu.Lock()
	send := h.send
	h.mu.Unlock()
	if send == nil {
		return false
	}
	send(msg)
	return true
}

func (h *Handler) ResolveConflict(src, dst pathaddr.Address) (engine.ConflictChoice, string) {
	req := conflictMsg{src: src, dst: dst, reply: make(chan conflictAnswer, 1)}
	if !h.dispatch(req) {
		return engine.ConflictSkip, ""
	}
	a := <-req.reply
	return a.choice, a.name
}

func (h *Handler) ResolveError(src pathaddr.Address, message string) bool {
	req := errorMsg{src: src, message: message, reply: make(chan bool, 1)}
	if !h.dispatch(req) {
		return false
	}
	return <-req.reply
}

func (h *Handler) ResolveTrashFailure(src pathaddr.Address, message string) engine.TrashChoice {
	req := trashMsg{src: src, message: message, reply: make(chan engine.TrashChoice, 1)}
	if !h.dispatch(req) {
		return engine.TrashSkip
	}
	return <-req.reply
}
