// Package tui provides a Bubble Tea player for an annotated video session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/playback"
	"github.com/fakeyudi/vidnote/internal/render"
	"github.com/fakeyudi/vidnote/internal/session"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// Annotation card on screen
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	selectedCardStyle = cardStyle.
				BorderForeground(lipgloss.Color("205"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// PollInterval is how often the model refreshes the session status.
const PollInterval = 100 * time.Millisecond

// Controller is the part of a session the player drives.
type Controller interface {
	Status(ctx context.Context) (session.Status, error)
	TogglePlay(ctx context.Context) error
	SeekBy(ctx context.Context, delta time.Duration) error
	SetStalled(ctx context.Context, stalled bool) error
	TapAnnotation(ctx context.Context, id string) error
	RequestCreate(ctx context.Context, x, y float32) error
	RequestMove(ctx context.Context, id string, x, y float32) error
	RequestDelete(ctx context.Context, id string) error
	CreateAnnotation(ctx context.Context, x, y float32, text string) (annotation.Annotation, error)
	EditAnnotation(ctx context.Context, id, text string) error
	MoveAnnotation(ctx context.Context, id string, x, y float32) error
	DeleteAnnotation(ctx context.Context, id string) error
}

// ── Modes ─────────────────

type mode int

const (
	modeWatch mode = iota
	modeCreate
	modeEdit
	modeConfirmDelete
)

// nudge is how far < and > move the selected annotation.
const nudge float32 = 0.05

type statusMsg struct{ status session.Status }
type errMsg struct{ err error }
type tickMsg time.Time
type visibleMsg struct{}
type doneMsg struct{}

// Model is the root Bubble Tea model of the player.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	bridge   *Bridge
	feed     *render.Feed
	videoID  string
	seekStep time.Duration

	status   session.Status
	visible  []annotation.Annotation
	version  uint64
	selected int
	pause    float64
	err      error

	mode    mode
	target  annotation.Annotation
	pending struct{ x, y float32 }
	input   textinput.Model
	bar     progress.Model

	width int
}

// New creates the player model. feed may be nil, in which case nothing is
// shown on screen but the transport still works.
func New(ctx context.Context, ctrl Controller, bridge *Bridge, feed *render.Feed, videoID string, seekStep time.Duration) Model {
	ti := textinput.New()
	ti.Placeholder = "annotation text"
	ti.CharLimit = 280
	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		bridge:   bridge,
		feed:     feed,
		videoID:  videoID,
		seekStep: seekStep,
		input:    ti,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:    80,
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick(), m.bridge.listen(), m.watchFeed())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-4)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), m.tick())

	case statusMsg:
		m.status = msg.status
		if m.status.State != playback.AnnotationPaused {
			m.pause = 0
		}
		return m, nil

	case visibleMsg:
		m.refreshVisible()
		return m, m.watchFeed()

	case stateMsg:
		m.status.State = msg.state
		return m, m.bridge.listen()

	case pauseMsg:
		m.pause = msg.progress
		return m, m.bridge.listen()

	case failureMsg:
		m.err = msg.err
		return m, m.bridge.listen()

	case errMsg:
		m.err = msg.err
		if errors.Is(msg.err, session.ErrReleased) {
			return m, tea.Quit
		}
		return m, nil

	case createReqMsg:
		m.pending.x, m.pending.y = msg.x, msg.y
		m.openInput(modeCreate, "")
		return m, tea.Batch(m.bridge.listen(), textinput.Blink)

	case editReqMsg:
		m.target = msg.a
		m.openInput(modeEdit, msg.a.Text)
		return m, tea.Batch(m.bridge.listen(), textinput.Blink)

	case moveReqMsg:
		id, x, y := msg.a.ID, msg.x, msg.y
		return m, tea.Batch(m.bridge.listen(), m.call(func(ctx context.Context) error {
			return m.ctrl.MoveAnnotation(ctx, id, x, y)
		}))

	case deleteReqMsg:
		m.target = msg.a
		m.mode = modeConfirmDelete
		return m, m.bridge.listen()

	case doneMsg:
		return m, nil

	case tea.KeyMsg:
		if m.mode == modeWatch {
			return m.handleWatchKey(msg)
		}
		return m.handleEditKey(msg)
	}
	return m, nil
}

func (m Model) handleWatchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		return m, m.call(m.ctrl.TogglePlay)
	case "left":
		return m, m.call(func(ctx context.Context) error { return m.ctrl.SeekBy(ctx, -m.seekStep) })
	case "right":
		return m, m.call(func(ctx context.Context) error { return m.ctrl.SeekBy(ctx, m.seekStep) })
	case "h":
		stalled := !m.status.Stalled
		return m, m.call(func(ctx context.Context) error { return m.ctrl.SetStalled(ctx, stalled) })
	case "tab":
		if len(m.visible) > 0 {
			m.selected = (m.selected + 1) % len(m.visible)
		}
	case "n":
		return m, m.call(func(ctx context.Context) error { return m.ctrl.RequestCreate(ctx, 0.5, 0.5) })
	case "e", "enter":
		if a, ok := m.current(); ok {
			return m, m.call(func(ctx context.Context) error { return m.ctrl.TapAnnotation(ctx, a.ID) })
		}
	case "d":
		if a, ok := m.current(); ok {
			return m, m.call(func(ctx context.Context) error { return m.ctrl.RequestDelete(ctx, a.ID) })
		}
	case "<", ">":
		if a, ok := m.current(); ok {
			x := a.X - nudge
			if msg.String() == ">" {
				x = a.X + nudge
			}
			return m, m.call(func(ctx context.Context) error { return m.ctrl.RequestMove(ctx, a.ID, x, a.Y) })
		}
	}
	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeConfirmDelete {
		id := m.target.ID
		m.mode = modeWatch
		switch msg.String() {
		case "y", "Y":
			return m, m.call(func(ctx context.Context) error { return m.ctrl.DeleteAnnotation(ctx, id) })
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		m.closeInput()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		mode, id, x, y := m.mode, m.target.ID, m.pending.x, m.pending.y
		m.closeInput()
		if text == "" {
			return m, nil
		}
		if mode == modeCreate {
			return m, m.call(func(ctx context.Context) error {
				_, err := m.ctrl.CreateAnnotation(ctx, x, y, text)
				return err
			})
		}
		return m, m.call(func(ctx context.Context) error { return m.ctrl.EditAnnotation(ctx, id, text) })
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Width(m.width).Render("  vidnote  " + m.videoID))
	sb.WriteString("\n\n")

	st := m.status
	state := stateStyle.Render(st.State.String())
	if st.State == playback.AnnotationPaused || st.State == playback.Paused {
		state = pausedStyle.Render(st.State.String())
	}
	fmt.Fprintf(&sb, "  %s  %s / %s",
		state,
		timeStyle.Render(annotation.FormatTime(st.PositionMs)),
		dimStyle.Render(annotation.FormatTime(st.DurationMs)),
	)
	if st.Stalled {
		sb.WriteString(pausedStyle.Render("  buffering"))
	}
	sb.WriteString("\n\n")

	if st.State == playback.AnnotationPaused {
		sb.WriteString("  " + m.bar.ViewAs(m.pause / 100) + "\n\n")
	}

	if len(m.visible) == 0 {
		sb.WriteString(dimStyle.Render("  (no annotations on screen)") + "\n")
	}
	for i, a := range m.visible {
		style := cardStyle
		if i == m.selected {
			style = selectedCardStyle
		}
		label := timeStyle.Render(annotation.FormatTime(a.TimeMs)) + "  " + a.Text
		sb.WriteString(style.Render(label) + "\n")
	}
	sb.WriteString("\n")

	switch m.mode {
	case modeCreate:
		sb.WriteString("  New annotation at " + annotation.FormatTime(st.PositionMs) + "\n  " + m.input.View() + "\n")
	case modeEdit:
		sb.WriteString("  Edit annotation\n  " + m.input.View() + "\n")
	case modeConfirmDelete:
		sb.WriteString(errorStyle.Render(fmt.Sprintf("  Delete %q? (y/n)", m.target.Text)) + "\n")
	}

	if m.err != nil {
		sb.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
	}

	hint := "  space play/pause  ←/→ seek  tab select  e edit  n new  d delete  </> move  h buffer  q quit"
	if m.mode != modeWatch {
		hint = "  enter save  esc cancel"
	}
	sb.WriteString("\n" + statusBarStyle.Width(m.width).Render(
		fmt.Sprintf("%d annotations", st.Count) + hint,
	))
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (m *Model) openInput(md mode, value string) {
	m.mode = md
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) closeInput() {
	m.mode = modeWatch
	m.input.Blur()
	m.input.SetValue("")
}

func (m *Model) refreshVisible() {
	if m.feed == nil {
		return
	}
	shown, version := m.feed.Snapshot()
	if version == m.version {
		return
	}
	m.visible, m.version = shown, version
	if m.selected >= len(m.visible) {
		m.selected = 0
	}
}

func (m Model) current() (annotation.Annotation, bool) {
	if m.selected < 0 || m.selected >= len(m.visible) {
		return annotation.Annotation{}, false
	}
	return m.visible[m.selected], true
}

// call runs fn off the Update goroutine; session calls block until the event
// loop has handled them.
func (m Model) call(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return errMsg{err}
		}
		return doneMsg{}
	}
}

func (m Model) poll() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		st, err := ctrl.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		return statusMsg{st}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) watchFeed() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	updates := m.feed.Updates()
	return func() tea.Msg {
		<-updates
		return visibleMsg{}
	}
}

// Run starts the player and blocks until the user quits.
func Run(ctx context.Context, ctrl Controller, bridge *Bridge, feed *render.Feed, videoID string, seekStep time.Duration) error {
	p := tea.NewProgram(New(ctx, ctrl, bridge, feed, videoID, seekStep), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
