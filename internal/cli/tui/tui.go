package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atriumhq/atrium/internal/cli/client"
	hostevents "github.com/atriumhq/atrium/internal/host/events"
)

const (
	refreshInterval = 5 * time.Second
	maxLogLines     = 200
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("243"))
	loadedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type instanceListMsg struct {
	instances []client.Instance
}

type appEventMsg struct {
	event client.AppEvent
}

type errMsg struct {
	err error
}

type eventsClosedMsg struct{}

type tickMsg struct{}

// Run launches the Bubble Tea dashboard.
func Run() error {
	base := os.Getenv("ATRIUM_API_BASE")
	api, err := client.New(base, os.Getenv("ATRIUM_API_KEY"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newModel(ctx, cancel, api)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		cancel()
		return err
	}
	return nil
}

type model struct {
	ctx       context.Context
	cancel    context.CancelFunc
	api       *client.Client
	instances []client.Instance
	logs      []string
	events    viewport.Model
	ready     bool
	err       error
	eventCh   chan client.AppEvent
	streamEOF bool
}

func newModel(ctx context.Context, cancel context.CancelFunc, api *client.Client) model {
	return model{
		ctx:     ctx,
		cancel:  cancel,
		api:     api,
		eventCh: make(chan client.AppEvent, 16),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchInstancesCmd(m.api, m.ctx),
		watchEventsCmd(m.api, m.ctx, m.eventCh),
		waitEventCmd(m.eventCh),
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.events, cmd = m.events.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		height := msg.Height - len(m.instances) - 8
		if height < 3 {
			height = 3
		}
		if !m.ready {
			m.events = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.events.Width = msg.Width
			m.events.Height = height
		}
		m.events.SetContent(renderLogs(m.logs))
		return m, nil
	case instanceListMsg:
		m.instances = msg.instances
		m.err = nil
		return m, nil
	case appEventMsg:
		ts := msg.event.Timestamp.Format(time.RFC3339)
		line := fmt.Sprintf("%s %-14s %-20s %s", dimStyle.Render(ts), msg.event.Type, msg.event.AppID, msg.event.InstanceID)
		m.logs = append([]string{line}, m.logs...)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[:maxLogLines]
		}
		if m.ready {
			m.events.SetContent(renderLogs(m.logs))
		}
		return m, tea.Batch(fetchInstancesCmd(m.api, m.ctx), waitEventCmd(m.eventCh))
	case errMsg:
		m.err = msg.err
		return m, nil
	case eventsClosedMsg:
		m.streamEOF = true
		return m, nil
	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchInstancesCmd(m.api, m.ctx))
	}
	return m, nil
}

func (m model) View() string {
	header := headerStyle.Render("ATRIUM :: Host Dashboard") + dimStyle.Render("  (q to quit)") + "\n"

	body := "\n" + labelStyle.Render("Instances:") + "\n"
	if len(m.instances) == 0 {
		body += dimStyle.Render("  (no instances)") + "\n"
	} else {
		body += fmt.Sprintf("  %-38s %-24s %s\n", "INSTANCE", "APP", "STATUS")
		for _, instance := range m.instances {
			status := instance.Status
			if status == "loaded" {
				status = loadedStyle.Render(status)
			}
			body += fmt.Sprintf("  %-38s %-24s %s\n", instance.InstanceID, instance.AppID, status)
		}
	}

	body += "\n" + labelStyle.Render("Events:") + "\n"
	if m.ready {
		body += m.events.View() + "\n"
	} else if len(m.logs) == 0 {
		body += dimStyle.Render("  (waiting for events)") + "\n"
	}

	if m.err != nil {
		body += "\n" + errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	if m.streamEOF {
		body += "\n" + dimStyle.Render("Event stream closed.") + "\n"
	}

	return header + body
}

func renderLogs(logs []string) string {
	if len(logs) == 0 {
		return dimStyle.Render("  (waiting for events)")
	}
	out := ""
	for _, line := range logs {
		out += "  " + line + "\n"
	}
	return out
}

func fetchInstancesCmd(api *client.Client, parent context.Context) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		instances, err := api.ListInstances(ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return instanceListMsg{instances: instances}
	}
}

func watchEventsCmd(api *client.Client, ctx context.Context, ch chan<- client.AppEvent) tea.Cmd {
	return func() tea.Msg {
		go func() {
			err := api.WatchEvents(ctx, hostevents.NameAppLifecycle, func(frame client.EventFrame) {
				if len(frame.Args) == 0 {
					return
				}
				var event client.AppEvent
				if err := json.Unmarshal(frame.Args[0], &event); err != nil {
					return
				}
				select {
				case ch <- event:
				case <-ctx.Done():
				}
			})
			if err != nil && ctx.Err() == nil {
				select {
				case ch <- client.AppEvent{Type: "ERROR", Message: err.Error(), Timestamp: time.Now().UTC()}:
				default:
				}
			}
			close(ch)
		}()
		return nil
	}
}

func waitEventCmd(ch <-chan client.AppEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return appEventMsg{event: ev}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}
