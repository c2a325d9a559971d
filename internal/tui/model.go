package tui

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"photo-compressor-go/internal/model"
	"photo-compressor-go/internal/registry"
)

// Update is one change of an entry shown by the progress view.
type Update struct {
	ID       string
	Name     string
	Status   model.Status
	Progress int
}

// Model renders live batch progress.
type Model struct {
	// OnInterrupt is called when the user presses ctrl+c. The view keeps
	// running until updates is closed.
	OnInterrupt func()

	updates  <-chan Update
	started  time.Time
	width    int
	total    int
	done     int
	failed   int
	running  map[string]Update
	stopping bool
	quitting bool
}

type doneMsg struct{}

type updateMsg Update

// NewModel returns a progress view over total entries fed by updates.
// The view quits when updates is closed.
func NewModel(updates <-chan Update, total int) Model {
	return Model{
		updates: updates,
		started: time.Now(),
		total:   total,
		running: make(map[string]Update),
	}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.apply(Update(msg))
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			if m.OnInterrupt != nil {
				m.OnInterrupt()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m *Model) apply(u Update) {
	switch u.Status {
	case model.StatusCompressing:
		m.running[u.ID] = u
	case model.StatusDone:
		delete(m.running, u.ID)
		m.done++
	case model.StatusError:
		delete(m.running, u.ID)
		m.failed++
	default:
		delete(m.running, u.ID)
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = min(60, max(20, m.width-10))
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = math.Min(1, float64(m.done+m.failed)/float64(m.total))
	}

	lines := []string{
		titleStyle.Render("photo-compressor"),
		labelStyle.Render(fmt.Sprintf("Images: %d/%d", m.done+m.failed, m.total)) +
			dimStyle.Render(fmt.Sprintf("  errors:%d", m.failed)),
		barStyle.Render(renderBar(barWidth, ratio)),
	}

	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.running[ids[i]].Name < m.running[ids[j]].Name })
	for _, id := range ids {
		u := m.running[id]
		lines = append(lines, dimStyle.Render(fmt.Sprintf("  %s %3d%% %s",
			renderBar(20, float64(u.Progress)/100), u.Progress, u.Name)))
	}

	if m.stopping {
		lines = append(lines, warnStyle.Render("Stopping: waiting for running images, the rest stay pending"))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("Elapsed: %s", time.Since(m.started).Round(time.Millisecond))))
	return strings.Join(lines, "\n")
}

// Feed forwards registry changes to updates and returns the unsubscribe
// function. Progress changes are dropped when updates is full; status
// changes are always delivered.
func Feed(reg *registry.Registry, updates chan<- Update) func() {
	return reg.Subscribe(func(ev registry.Event) {
		if ev.Type != registry.EventUpdated && ev.Type != registry.EventProgress {
			return
		}
		entry, ok := reg.Get(ev.ID)
		if !ok {
			return
		}
		u := Update{ID: entry.ID, Name: entry.Name, Status: entry.Status, Progress: entry.Progress}
		if ev.Type == registry.EventProgress {
			select {
			case updates <- u:
			default:
			}
			return
		}
		updates <- u
	})
}

func listenForUpdates(updates <-chan Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := min(max(int(math.Round(ratio*float64(width))), 0), width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
)
