package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/quarrydev/fileops/controller"
	"github.com/quarrydev/fileops/engine"
	fprogress "github.com/quarrydev/fileops/progress"
)

// tickMsg drives the poll loop.
type tickMsg time.Time

// Model renders the state of the active run and its queue, and
// overlays decision prompts when the controller raises one.
type Model struct {
	ctrl     *controller.Controller
	interval time.Duration

	spinner spinner.Model
	bar     progress.Model
	rename  textinput.Model

	metrics *fprogress.Metrics
	queue   []controller.QueueEntry

	// At most one pending prompt at a time; the controller serves
	// prompts one per poll tick, and we hold its goroutine until
	// the user answers.
	conflict *conflictMsg
	runErr   *errorMsg
	trash    *trashMsg
	renaming bool

	width    int
	quitting bool

	titleStyle  lipgloss.Style
	labelStyle  lipgloss.Style
	statStyle   lipgloss.Style
	promptStyle lipgloss.Style
	queueStyle  lipgloss.Style
	doneStyle   lipgloss.Style
}

// New builds a model polling ctrl at the given interval.
func New(ctrl *controller.Controller, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	in := textinput.New()
	in.Placeholder = "new name"
	in.CharLimit = 255
	in.Width = 40

	if interval <= 0 {
		interval = controller.DefaultPollInterval
	}

	return Model{
		ctrl:     ctrl,
		interval: interval,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient()),
		rename:   in,
		width:    80,

		titleStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		labelStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		statStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		promptStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		queueStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		doneStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) prompting() bool {
	return m.conflict != nil || m.runErr != nil || m.trash != nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil

	case tickMsg:
		m.metrics = m.ctrl.Poll()
		m.queue = m.ctrl.QueueSnapshot()
		if m.ctrl.Idle() && !m.prompting() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()

	case conflictMsg:
		m.conflict = &msg
		return m, nil

	case errorMsg:
		m.runErr = &msg
		return m, nil

	case trashMsg:
		m.trash = &msg
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.renaming {
		switch msg.String() {
		case "enter":
			name := strings.TrimSpace(m.rename.Value())
			if name == "" {
				return m, nil
			}
			m.conflict.reply <- conflictAnswer{choice: engine.ConflictRename, name: name}
			m.conflict = nil
			m.renaming = false
			m.rename.Reset()
			return m, nil
		case "esc":
			m.renaming = false
			m.rename.Reset()
			return m, nil
		}
		var cmd tea.Cmd
		m.rename, cmd = m.rename.Update(msg)
		return m, cmd
	}

	switch {
	case m.conflict != nil:
		switch msg.String() {
		case "o":
			m.conflict.reply <- conflictAnswer{choice: engine.ConflictOverwrite}
			m.conflict = nil
		case "s":
			m.conflict.reply <- conflictAnswer{choice: engine.ConflictSkip}
			m.conflict = nil
		case "r":
			m.renaming = true
			m.rename.SetValue(m.conflict.dst.Basename())
			return m, m.rename.Focus()
		case "c":
			m.conflict.reply <- conflictAnswer{choice: engine.ConflictCancel}
			m.conflict = nil
		}
		return m, nil

	case m.runErr != nil:
		switch msg.String() {
		case "y":
			m.runErr.reply <- true
			m.runErr = nil
		case "n":
			m.runErr.reply <- false
			m.runErr = nil
		}
		return m, nil

	case m.trash != nil:
		switch msg.String() {
		case "d":
			m.trash.reply <- engine.TrashDeletePermanently
			m.trash = nil
		case "s":
			m.trash.reply <- engine.TrashSkip
			m.trash = nil
		case "c":
			m.trash.reply <- engine.TrashCancel
			m.trash = nil
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.ctrl.CancelActive()
		m.ctrl.ClearQueue()
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.titleStyle.Render("fops"))
	b.WriteString("\n\n")

	switch {
	case m.metrics != nil:
		m.renderRun(&b)
	case m.quitting:
		b.WriteString(m.doneStyle.Render("all operations finished"))
		b.WriteString("\n")
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" waiting for work...\n")
	}

	if len(m.queue) > 0 {
		b.WriteString("\n")
		b.WriteString(m.statStyle.Render(fmt.Sprintf("queued (%d):", len(m.queue))))
		b.WriteString("\n")
		for _, q := range m.queue {
			b.WriteString(m.queueStyle.Render(fmt.Sprintf("  #%d %s (%d items)", q.ID, q.Description, q.Items)))
			b.WriteString("\n")
		}
	}

	if p := m.renderPrompt(); p != "" {
		b.WriteString("\n")
		b.WriteString(p)
		b.WriteString("\n")
	}

	if !m.quitting && !m.prompting() {
		b.WriteString("\n")
		b.WriteString(m.statStyle.Render("press q to cancel and quit"))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderRun(b *strings.Builder) {
	s := m.metrics.Snapshot

	label := s.Label
	if label == "" {
		label = "preparing..."
	}
	b.WriteString(m.labelStyle.Render(label))
	b.WriteString("\n\n")

	switch m.metrics.Mode {
	case fprogress.GaugePulse:
		b.WriteString(m.spinner.View())
		b.WriteString(" working...\n")
	default:
		b.WriteString(m.bar.ViewAs(m.metrics.Fraction()))
		b.WriteString("\n")
	}

	stats := fmt.Sprintf("items %d/%d", s.ItemsDone, s.TotalItems)
	if s.TotalBytes > 0 {
		stats += fmt.Sprintf("  %s / %s", humanize.Bytes(uint64(s.BytesDone)), humanize.Bytes(uint64(s.TotalBytes)))
	} else if s.BytesDone > 0 {
		stats += fmt.Sprintf("  %s", humanize.Bytes(uint64(s.BytesDone)))
	}
	if sp := formatSpeed(m.metrics.Speed); sp != "" {
		stats += "  " + sp
	}
	if eta := formatRemaining(m.metrics.Remaining); eta != "" {
		stats += "  " + eta
	}
	if s.Canceling {
		stats += "  canceling..."
	}
	b.WriteString(m.statStyle.Render(stats))
	b.WriteString("\n")
}

func (m Model) renderPrompt() string {
	switch {
	case m.conflict != nil:
		if m.renaming {
			return m.promptStyle.Render("rename to: ") + m.rename.View() +
				"\n" + m.statStyle.Render("enter to confirm, esc to go back")
		}
		return m.promptStyle.Render(fmt.Sprintf("%q already exists at destination.", m.conflict.dst.Basename())) +
			"\n" + m.statStyle.Render("[o]verwrite  [s]kip  [r]ename  [c]ancel")
	case m.runErr != nil:
		return m.promptStyle.Render(fmt.Sprintf("error on %q: %s", m.runErr.src.Basename(), m.runErr.message)) +
			"\n" + m.statStyle.Render("continue with remaining items? [y]es  [n]o")
	case m.trash != nil:
		return m.promptStyle.Render(fmt.Sprintf("cannot trash %q: %s", m.trash.src.Basename(), m.trash.message)) +
			"\n" + m.statStyle.Render("[d]elete permanently  [s]kip  [c]ancel")
	}
	return ""
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}

func formatRemaining(d time.Duration) string {
	if d == fprogress.RemainingUnknown || d < 0 {
		return ""
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds left", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds left", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm left", int(d.Hours()), int(d.Minutes())%60)
}
