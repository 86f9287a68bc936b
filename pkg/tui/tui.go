// Package tui renders an agenda session as a month grid in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harrisonrobin/duet/pkg/agenda"
	"github.com/harrisonrobin/duet/pkg/cursor"
	"github.com/harrisonrobin/duet/pkg/grid"
)

// dragScale converts terminal columns into gesture units.
const dragScale = 10

const (
	minCellWidth = 10
	fetchTimeout = 15 * time.Second
)

var weekdays = [grid.DaysPerWeek]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	weekdayStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	cellStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	selectedStyle = cellStyle.BorderForeground(lipgloss.Color("212"))
	outsideStyle  = lipgloss.NewStyle().Faint(true)
	doneStyle     = lipgloss.NewStyle().Strikethrough(true).Faint(true)
	overflowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type frameMsg struct {
	frame agenda.Frame
	err   error
}

type tapMsg struct {
	date string
	err  error
}

type dragState struct {
	x  int
	at time.Time
}

type Model struct {
	session  *agenda.Session
	keys     keyMap
	help     help.Model
	frame    agenda.Frame
	selected int
	status   string
	width    int
	drag     *dragState
	now      func() time.Time
}

func New(session *agenda.Session) Model {
	frame := session.Frame()
	return Model{
		session:  session,
		keys:     defaultKeys(),
		help:     help.New(),
		frame:    frame,
		selected: firstInMonth(frame),
		status:   "Loading…",
		now:      time.Now,
	}
}

// Run starts the full-screen program and blocks until the user quits.
func Run(session *agenda.Session) error {
	program := tea.NewProgram(New(session), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.do(m.session.Refresh)
}

// do runs a session call off the update loop and reports the new frame.
func (m Model) do(call func(context.Context) error) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		err := call(ctx)
		return frameMsg{frame: session.Frame(), err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		return m.handleMouse(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
	case frameMsg:
		monthChanged := msg.frame.Year != m.frame.Year || msg.frame.Month != m.frame.Month
		m.frame = msg.frame
		if monthChanged {
			m.selected = firstInMonth(m.frame)
		}
		switch {
		case errors.Is(msg.err, agenda.ErrNoData):
			m.status = fmt.Sprintf("Could not load tasks: %v", msg.err)
		case msg.err != nil:
			m.status = msg.err.Error()
		default:
			m.status = ""
		}
	case tapMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = m.dayDetail(msg.date)
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Prev):
		return m, m.do(m.session.Retreat)
	case key.Matches(msg, m.keys.Next):
		return m, m.do(m.session.Advance)
	case key.Matches(msg, m.keys.Today):
		today := cursor.Current(m.now())
		return m, m.do(func(ctx context.Context) error {
			return m.session.Show(ctx, today.Year, today.Month)
		})
	case key.Matches(msg, m.keys.Reload):
		return m, m.do(m.session.Refresh)
	case key.Matches(msg, m.keys.Up):
		m.selected = moveSelection(m.selected, -grid.DaysPerWeek)
	case key.Matches(msg, m.keys.Down):
		m.selected = moveSelection(m.selected, grid.DaysPerWeek)
	case key.Matches(msg, m.keys.Left):
		m.selected = moveSelection(m.selected, -1)
	case key.Matches(msg, m.keys.Right):
		m.selected = moveSelection(m.selected, 1)
	case key.Matches(msg, m.keys.Tap):
		session, i := m.session, m.selected
		return m, func() tea.Msg {
			date, err := session.Tap(i)
			return tapMsg{date: date, err: err}
		}
	case key.Matches(msg, m.keys.Toggle):
		return m.toggleSelected()
	}
	return m, nil
}

func (m Model) toggleSelected() (tea.Model, tea.Cmd) {
	if m.selected >= len(m.frame.Cells) || len(m.frame.Cells[m.selected].Tasks) == 0 {
		m.status = "No task on this day"
		return m, nil
	}
	id := m.frame.Cells[m.selected].Tasks[0].ID
	return m, m.do(func(ctx context.Context) error {
		return m.session.ToggleCompletion(ctx, id)
	})
}

// handleMouse turns a left-button press and release into a swipe.
func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Button != tea.MouseButtonLeft {
		return m, nil
	}
	switch msg.Action {
	case tea.MouseActionPress:
		m.drag = &dragState{x: msg.X, at: m.now()}
	case tea.MouseActionRelease:
		if m.drag == nil {
			return m, nil
		}
		velocity, translation := dragGesture(msg.X-m.drag.x, m.now().Sub(m.drag.at))
		m.drag = nil
		return m, m.do(func(ctx context.Context) error {
			_, err := m.session.Swipe(ctx, velocity, translation)
			return err
		})
	}
	return m, nil
}

// dragGesture measures a horizontal drag of dx columns over elapsed in
// gesture units: translation is dx scaled, velocity is units per second.
func dragGesture(dx int, elapsed time.Duration) (velocity, translation float64) {
	translation = float64(dx * dragScale)
	if elapsed <= 0 {
		return 0, translation
	}
	return translation / elapsed.Seconds(), translation
}

func moveSelection(i, delta int) int {
	i += delta
	if i < 0 {
		return 0
	}
	if i >= grid.CellCount {
		return grid.CellCount - 1
	}
	return i
}

func firstInMonth(f agenda.Frame) int {
	for i, c := range f.Cells {
		if c.InMonth && c.Day == 1 {
			return i
		}
	}
	return 0
}

func (m Model) dayDetail(date string) string {
	for _, c := range m.frame.Cells {
		if c.Date != date {
			continue
		}
		if len(c.Tasks) == 0 {
			return date + ": nothing planned"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d task(s), %d pending", date, len(c.Tasks), c.Summary.Pending)
		for _, t := range c.Tasks {
			check := "[ ]"
			if t.IsCompleted {
				check = "[x]"
			}
			when := t.StartTime
			if when == "" {
				when = "     "
			}
			fmt.Fprintf(&b, "\n  %s %s %s %s", check, when, t.Emoji, t.Title)
		}
		return b.String()
	}
	return date
}

func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render(m.frame.Label)
	if m.frame.Stale {
		header += staleStyle.Render(" (stale)")
	}
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(m.renderGrid())
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Render draws a frame once, without selection or key help, for printing
// to a plain terminal.
func Render(frame agenda.Frame, width int) string {
	m := Model{frame: frame, selected: -1, width: width}
	header := titleStyle.Render(frame.Label)
	if frame.Stale {
		header += staleStyle.Render(" (stale)")
	}
	return header + "\n\n" + m.renderGrid() + "\n"
}

func (m Model) cellWidth() int {
	w := (m.width / grid.DaysPerWeek) - 2
	if w < minCellWidth {
		return minCellWidth
	}
	return w
}

func (m Model) renderGrid() string {
	w := m.cellWidth()
	height := 1
	for _, c := range m.frame.Cells {
		lines := 1 + len(c.Summary.Visible)
		if c.Overflow != "" {
			lines++
		}
		if lines > height {
			height = lines
		}
	}

	head := make([]string, grid.DaysPerWeek)
	for i, d := range weekdays {
		head[i] = weekdayStyle.Width(w + 2).Align(lipgloss.Center).Render(d)
	}
	rows := []string{lipgloss.JoinHorizontal(lipgloss.Top, head...)}

	for r := 0; r*grid.DaysPerWeek < len(m.frame.Cells); r++ {
		cells := make([]string, 0, grid.DaysPerWeek)
		for i := r * grid.DaysPerWeek; i < (r+1)*grid.DaysPerWeek && i < len(m.frame.Cells); i++ {
			cells = append(cells, m.renderCell(i, w, height))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderCell(i, w, height int) string {
	c := m.frame.Cells[i]
	day := fmt.Sprintf("%2d", c.Day)
	if c.Summary.Glyph != "" {
		day += " " + c.Summary.Glyph
	}
	if !c.InMonth {
		day = outsideStyle.Render(day)
	}
	lines := []string{day}
	for _, t := range c.Summary.Visible {
		line := truncate(t.Title, w)
		if t.IsCompleted {
			line = doneStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if c.Overflow != "" {
		lines = append(lines, overflowStyle.Render(c.Overflow))
	}

	style := cellStyle
	if i == m.selected {
		style = selectedStyle
	}
	return style.Width(w).Height(height).Render(strings.Join(lines, "\n"))
}

// truncate shortens s to at most w terminal cells.
func truncate(s string, w int) string {
	if lipgloss.Width(s) <= w {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > w {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
