// Package tui renders pipeline progress in the terminal: an interactive
// bubbletea table when attached to a TTY and a line-oriented log otherwise.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
)

type statusEventMsg struct {
	event pipeline.Event
}

type streamClosedMsg struct{}

// TableOption customizes DeployTable construction.
type TableOption func(*DeployTable)

// WithBuildOnly hides the release columns.
func WithBuildOnly(buildOnly bool) TableOption {
	return func(t *DeployTable) {
		t.buildOnly = buildOnly
	}
}

// WithInterrupt registers the callback run on ctrl+c. The table keeps
// rendering until the subscription closes.
func WithInterrupt(fn func()) TableOption {
	return func(t *DeployTable) {
		t.onInterrupt = fn
	}
}

// WithSnapshot seeds the table with statuses observed before subscribing.
func WithSnapshot(snapshot pipeline.Snapshot) TableOption {
	return func(t *DeployTable) {
		for name, status := range snapshot.Statuses {
			t.statuses[name] = status
		}
		for name, pkg := range snapshot.Packages {
			t.display[name] = pkg
		}
	}
}

// DeployTable is a bubbletea model drawing one row per artifact, driven by a
// projection subscription.
type DeployTable struct {
	order       []string
	display     map[string]string
	statuses    map[string]pipeline.ContractStatus
	events      <-chan pipeline.Event
	spinner     spinner.Model
	bar         progress.Model
	buildOnly   bool
	finished    bool
	interrupted bool
	onInterrupt func()
}

// NewDeployTable lists order top to bottom. displayNames maps artifact names
// to the label shown until a package name is discovered.
func NewDeployTable(order []string, displayNames map[string]string, sub pipeline.Subscription, opts ...TableOption) *DeployTable {
	t := &DeployTable{
		order:    append([]string(nil), order...),
		display:  map[string]string{},
		statuses: map[string]pipeline.ContractStatus{},
		events:   sub.Events,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		bar:      newBar(),
	}
	for name, label := range displayNames {
		t.display[name] = label
	}
	for _, name := range order {
		t.statuses[name] = pipeline.ContractStatus{Name: name, State: pipeline.StateWaiting}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func waitForEvent(events <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return statusEventMsg{event: event}
	}
}

// Init implements tea.Model.
func (t *DeployTable) Init() tea.Cmd {
	return tea.Batch(t.spinner.Tick, waitForEvent(t.events))
}

// Update implements tea.Model.
func (t *DeployTable) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusEventMsg:
		t.apply(msg.event)
		return t, waitForEvent(t.events)
	case streamClosedMsg:
		t.finished = true
		return t, tea.Quit
	case spinner.TickMsg:
		if t.finished {
			return t, nil
		}
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		return t, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !t.interrupted {
			t.interrupted = true
			if t.onInterrupt != nil {
				t.onInterrupt()
			}
		}
	}
	return t, nil
}

func (t *DeployTable) apply(event pipeline.Event) {
	switch event.Kind {
	case pipeline.EventPackage:
		t.display[event.Name] = event.PackageName
	default:
		t.statuses[event.Name] = event.Status
	}
}

// View implements tea.Model.
func (t *DeployTable) View() string {
	rows := rowRenderer{bar: t.bar, spin: t.spinner.View(), buildOnly: t.buildOnly}
	lines := make([]string, 0, len(t.order)+2)
	lines = append(lines, "")
	for _, name := range t.order {
		lines = append(lines, rows.row(t.label(name), t.statuses[name]))
	}
	if failures := t.failures(); failures != "" {
		lines = append(lines, "", failures)
	}
	if t.interrupted && !t.finished {
		lines = append(lines, "", idleStyle.Render("interrupt received, waiting for in-flight work..."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func (t *DeployTable) failures() string {
	var blocks []string
	for _, name := range t.order {
		status := t.statuses[name]
		if status.State != pipeline.StateError || status.Error == "" {
			continue
		}
		blocks = append(blocks, failedStyle.Render(t.label(name)+":")+"\n"+strings.TrimRight(status.Error, "\n"))
	}
	return strings.Join(blocks, "\n")
}

func (t *DeployTable) label(name string) string {
	if label := t.display[name]; label != "" {
		return label
	}
	return name
}

// Status returns the latest status the table has seen for name.
func (t *DeployTable) Status(name string) pipeline.ContractStatus {
	return t.statuses[name]
}

// Finished reports whether the subscription has closed.
func (t *DeployTable) Finished() bool {
	return t.finished
}

// Interrupted reports whether the user pressed ctrl+c.
func (t *DeployTable) Interrupted() bool {
	return t.interrupted
}
