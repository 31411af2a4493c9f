package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
	"github.com/balkashynov/tracker/internal/parser"
	prog "github.com/balkashynov/tracker/internal/progress"
)

const refreshInterval = 2 * time.Second

// BoardStore is what the board reads. It never writes.
type BoardStore interface {
	Now() time.Time
	ListTasks(filter db.TaskFilter) ([]models.Task, error)
	ActiveAssignments() (map[uint]models.TaskAssignment, error)
	UnreadReminderCount(taskID uint) (int64, error)
}

type boardKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Status  key.Binding
	Filter  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func (k boardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Status, k.Filter, k.Refresh, k.Quit}
}

func (k boardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var boardKeys = boardKeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Status:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "status filter")),
	Filter:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q/esc", "quit")),
}

// status filter cycle, "" shows everything
var statusFilters = []models.TaskStatus{"", models.TaskTodo, models.TaskInProgress, models.TaskDone}

type refreshTickMsg struct{}

type boardDataMsg struct {
	tasks     []models.Task
	active    map[uint]models.TaskAssignment
	reminders map[uint]int64
	at        time.Time
	err       error
}

// BoardModel is a live, read-only view of tasks, their phases and the
// agent currently assigned to each
type BoardModel struct {
	store BoardStore

	width  int
	height int

	tasks     []models.Task
	active    map[uint]models.TaskAssignment
	reminders map[uint]int64
	visible   []models.Task

	selectedID  uint
	statusIndex int
	filtering   bool
	search      textinput.Model

	bar  progress.Model
	help help.Model

	lastRefresh time.Time
	err         error
}

// NewBoardModel creates a board reading from store
func NewBoardModel(store BoardStore) BoardModel {
	search := textinput.New()
	search.Placeholder = "name or #tag"
	search.CharLimit = 100
	search.Prompt = "Search: "
	search.TextStyle = fg(ColorPrimaryText)

	return BoardModel{
		store:  store,
		search: search,
		bar: progress.New(
			progress.WithGradient(ColorAccentMain, ColorAccentBright),
			progress.WithoutPercentage(),
			progress.WithWidth(20),
		),
		help: help.New(),
	}
}

func (m BoardModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tickRefresh())
}

func tickRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// load reads a fresh snapshot of the board
func (m BoardModel) load() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		tasks, err := store.ListTasks(db.TaskFilter{})
		if err != nil {
			return boardDataMsg{err: err}
		}
		active, err := store.ActiveAssignments()
		if err != nil {
			return boardDataMsg{err: err}
		}
		reminders := make(map[uint]int64, len(active))
		for taskID := range active {
			n, err := store.UnreadReminderCount(taskID)
			if err != nil {
				return boardDataMsg{err: err}
			}
			reminders[taskID] = n
		}
		return boardDataMsg{tasks: tasks, active: active, reminders: reminders, at: store.Now()}
	}
}

func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshTickMsg:
		return m, tea.Batch(m.load(), tickRefresh())

	case boardDataMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.tasks, m.active, m.reminders = msg.tasks, msg.active, msg.reminders
		m.lastRefresh = msg.at
		m.applyFilter()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.handleSearchKeys(msg)
		}
		switch {
		case key.Matches(msg, boardKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, boardKeys.Up):
			m.move(-1)
		case key.Matches(msg, boardKeys.Down):
			m.move(1)
		case key.Matches(msg, boardKeys.Status):
			m.statusIndex = (m.statusIndex + 1) % len(statusFilters)
			m.applyFilter()
		case key.Matches(msg, boardKeys.Filter):
			m.filtering = true
			return m, m.search.Focus()
		case key.Matches(msg, boardKeys.Refresh):
			return m, m.load()
		}
	}
	return m, nil
}

func (m BoardModel) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filtering = false
		m.search.Blur()
		m.search.SetValue("")
		m.applyFilter()
		return m, nil
	case tea.KeyEnter:
		m.filtering = false
		m.search.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.applyFilter()
	return m, cmd
}

// applyFilter rebuilds the visible rows and keeps the selection on the
// same task when it is still shown
func (m *BoardModel) applyFilter() {
	status := statusFilters[m.statusIndex]
	query := strings.ToLower(strings.TrimSpace(m.search.Value()))

	m.visible = make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if query != "" && !matches(t, query) {
			continue
		}
		m.visible = append(m.visible, t)
	}

	if m.selectedIndex() < 0 {
		m.selectedID = 0
		if len(m.visible) > 0 {
			m.selectedID = m.visible[0].ID
		}
	}
}

func matches(t models.Task, query string) bool {
	if tag, ok := strings.CutPrefix(query, "#"); ok {
		for _, have := range t.Tags() {
			if strings.EqualFold(have, tag) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(t.Name), query)
}

func (m BoardModel) selectedIndex() int {
	for i, t := range m.visible {
		if t.ID == m.selectedID {
			return i
		}
	}
	return -1
}

func (m *BoardModel) move(delta int) {
	if len(m.visible) == 0 {
		return
	}
	i := m.selectedIndex() + delta
	if i < 0 {
		i = 0
	}
	if i >= len(m.visible) {
		i = len(m.visible) - 1
	}
	m.selectedID = m.visible[i].ID
}

// Selected returns the highlighted task, if any
func (m BoardModel) Selected() (models.Task, bool) {
	i := m.selectedIndex()
	if i < 0 {
		return models.Task{}, false
	}
	return m.visible[i], true
}

func (m BoardModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	leftWidth := m.width * 55 / 100
	rightWidth := m.width - leftWidth - 1

	content := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderTaskTable(leftWidth),
		" ",
		m.renderTaskDetails(rightWidth),
	)

	var footer string
	if m.filtering {
		footer = m.search.View()
	} else {
		footer = m.help.View(boardKeys)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		content,
		"",
		footer,
	)
}

func (m BoardModel) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentMain)).Render("tracker")

	status := "all"
	if s := statusFilters[m.statusIndex]; s != "" {
		status = string(s)
	}
	info := fmt.Sprintf("  %d/%d tasks · status: %s", len(m.visible), len(m.tasks), status)
	if q := m.search.Value(); q != "" {
		info += fmt.Sprintf(" · search: %q", q)
	}
	if !m.lastRefresh.IsZero() {
		info += " · updated " + m.lastRefresh.Local().Format("15:04:05")
	}
	line := title + fg(ColorHelpText).Render(info)
	if m.err != nil {
		line += "  " + fg(ColorError).Render("error: "+m.err.Error())
	}
	return line
}

func (m BoardModel) renderTaskTable(width int) string {
	var b strings.Builder

	if len(m.visible) == 0 {
		b.WriteString(fg(ColorSecondaryText).Italic(true).Render("No tasks found"))
		return lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder)).
			Width(width).
			Render(b.String())
	}

	const idWidth, statusWidth, progWidth = 5, 12, 5
	agentWidth := 14
	nameWidth := width - 4 - idWidth - statusWidth - progWidth - agentWidth - 4
	if nameWidth < 12 {
		nameWidth = 12
	}

	header := fmt.Sprintf("%-*s %-*s %-*s %*s %-*s",
		idWidth, "ID", nameWidth, "NAME", statusWidth, "STATUS", progWidth, "PROG", agentWidth, "AGENT")
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentBright)).Render(header))
	b.WriteString("\n")

	// rows that fit: borders, header, footer and help take about ten lines
	rows := m.height - 10
	if rows < 3 {
		rows = 3
	}
	start := 0
	if sel := m.selectedIndex(); sel >= rows {
		start = sel - rows + 1
	}
	end := min(start+rows, len(m.visible))

	for _, t := range m.visible[start:end] {
		agent := "-"
		agentColor := ColorDisabledText
		if a, ok := m.active[t.ID]; ok {
			agent = truncate(a.AgentName, agentWidth)
			agentColor = assignmentColor(a.Status)
		}
		row := fmt.Sprintf("%-*s %-*s %s %*s %s",
			idWidth, fmt.Sprintf("#%d", t.ID),
			nameWidth, truncate(t.Name, nameWidth),
			fg(taskStatusColor(t.Status)).Render(fmt.Sprintf("%-*s", statusWidth, t.Status)),
			progWidth, fmt.Sprintf("%d%%", t.Progress),
			fg(agentColor).Render(agent))

		if t.ID == m.selectedID {
			b.WriteString(lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(ColorPrimaryText)).
				Background(lipgloss.Color(ColorBorder)).
				Render(row))
		} else {
			b.WriteString(row)
		}
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Width(width).
		Render(strings.TrimRight(b.String(), "\n"))
}

func (m BoardModel) renderTaskDetails(width int) string {
	var b strings.Builder
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentMain)).
		Width(width)

	task, ok := m.Selected()
	if !ok {
		b.WriteString(fg(ColorSecondaryText).Italic(true).Render("Select a task to view details"))
		return border.Render(b.String())
	}

	bar := m.bar
	bar.Width = max(10, width-12)

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorPrimaryText)).Render(task.Name))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		label("Status"), fg(taskStatusColor(task.Status)).Bold(true).Render(string(task.Status)),
		label("Priority"), fg(priorityColor(task.Priority)).Render(string(task.Priority)))
	fmt.Fprintf(&b, "%s %s %d%%\n", label("Progress"), bar.ViewAs(float64(task.Progress)/100), task.Progress)
	if task.DueDate != nil {
		fmt.Fprintf(&b, "%s %s\n", label("Due"), fg(ColorWarning).Render(parser.FormatDueDateAt(task.DueDate, m.now())))
	}
	if tags := task.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "%s %s\n", label("Tags"), fg(ColorAccentBright).Render(strings.Join(tags, ", ")))
	}
	if !task.PingEnabled {
		fmt.Fprintf(&b, "%s %s\n", label("Ping"), fg(ColorDisabledText).Render("off"))
	}

	if a, ok := m.active[task.ID]; ok {
		line := fmt.Sprintf("%s (%s)", a.AgentName, a.Status)
		if a.EscalationCount > 0 {
			line += fmt.Sprintf(", escalated %dx", a.EscalationCount)
		}
		if a.TimedOutAt != nil {
			line += ", timed out"
		}
		fmt.Fprintf(&b, "%s %s\n", label("Agent"), fg(assignmentColor(a.Status)).Render(line))
		if n := m.reminders[task.ID]; n > 0 {
			fmt.Fprintf(&b, "%s %d unread\n", label("Reminders"), n)
		}
	}

	if len(task.Phases) > 0 {
		b.WriteString("\n")
	}
	for _, p := range task.Phases {
		done, total := prog.CountTodos(p.Todos)
		fmt.Fprintf(&b, "%s %s %s\n",
			fg(phaseStatusColor(p.Status)).Render(phaseMark(p.Status)),
			p.Name,
			fg(ColorHelpText).Render(fmt.Sprintf("%d/%d", done, total)))
	}

	return border.Render(strings.TrimRight(b.String(), "\n"))
}

func (m BoardModel) now() time.Time {
	if !m.lastRefresh.IsZero() {
		return m.lastRefresh
	}
	return time.Now()
}

func label(s string) string {
	return fg(ColorSecondaryText).Render(s + ":")
}

func phaseMark(s models.PhaseStatus) string {
	switch s {
	case models.PhaseCompleted:
		return "✓"
	case models.PhaseInProgress:
		return "◐"
	case models.PhaseBlocked:
		return "✗"
	default:
		return "○"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
