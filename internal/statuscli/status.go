// Package statuscli renders a read-only terminal status view of the
// registry's backend table, refreshed live off the shared event bus. It
// talks directly to the in-process Registry; it is not a network admin
// surface.
package statuscli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/pkg/eventbus"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	diedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	aliveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	tableStyles = func() table.Styles {
		s := table.DefaultStyles()
		s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("39"))
		s.Selected = s.Selected.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("0"))
		return s
	}()
)

type eventMsg domain.ProxyEvent

type tickMsg time.Time

// model is the Bubble Tea model for the status view.
type model struct {
	registry    ports.Registry
	events      <-chan domain.ProxyEvent
	unsubscribe func()
	lastEvent   domain.ProxyEvent
	sessions    int
	table       table.Model
}

func newModel(registry ports.Registry, bus *eventbus.EventBus[domain.ProxyEvent]) model {
	ch, cancel := bus.Subscribe(context.Background())

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "identity", Width: 28},
			{Title: "died", Width: 6},
			{Title: "latency", Width: 10},
			{Title: "priority", Width: 8},
			{Title: "failed", Width: 8},
		}),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	tbl.SetStyles(tableStyles)

	m := model{registry: registry, events: ch, unsubscribe: cancel, table: tbl}
	m.refreshTable()
	return m
}

// refreshTable rebuilds the table's rows from the registry's current
// backend list, sorted lowest-priority first to match the selector's
// own priority-bucket ordering.
func (m *model) refreshTable() {
	backends := m.registry.ListBackends()
	sort.Slice(backends, func(i, j int) bool {
		return backends[i].Meta().Priority < backends[j].Meta().Priority
	})

	rows := make([]table.Row, 0, len(backends))
	for _, be := range backends {
		meta := be.Meta()
		died := aliveStyle.Render("no")
		if meta.Died() {
			died = diedStyle.Render("yes")
		}
		rows = append(rows, table.Row{
			meta.Identity,
			died,
			meta.Latency().String(),
			strconv.Itoa(meta.Priority),
			strconv.FormatInt(meta.FailedTimes(), 10),
		})
	}
	m.table.SetRows(rows)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func waitForEvent(ch <-chan domain.ProxyEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.unsubscribe()
			return m, tea.Quit
		}
	case eventMsg:
		ev := domain.ProxyEvent(msg)
		m.lastEvent = ev
		switch ev.Kind {
		case domain.EventBackendSelected:
			m.sessions++
		case domain.EventSessionCompleted:
			if m.sessions > 0 {
				m.sessions--
			}
		}
		m.refreshTable()
		return m, waitForEvent(m.events)
	case tickMsg:
		m.refreshTable()
		return m, tick()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("fqsocks status") + "\n\n")
	fmt.Fprintf(&b, "active sessions: %d\n\n", m.sessions)

	b.WriteString(m.table.View())

	if m.lastEvent.Kind != "" {
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("last event: %s (%s) %s", m.lastEvent.Kind, m.lastEvent.Backend, m.lastEvent.Reason)))
	}
	b.WriteString("\n\n" + dimStyle.Render("press q to quit"))

	return b.String()
}

// Run blocks rendering the status TUI until the user quits.
func Run(registry ports.Registry, bus *eventbus.EventBus[domain.ProxyEvent]) error {
	p := tea.NewProgram(newModel(registry, bus))
	_, err := p.Run()
	return err
}
