package ui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytup/internal/formatter"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	QueueView ViewState = iota
	ConfirmView
	UploadView
	ResultView
)

const recentLines = 6

// Runner runs an upload over units, reporting through progress. [*tasks.Engine] implements it.
type Runner interface {
	Run(ctx context.Context, units []models.UploadUnit, progress chan<- tasks.ProgressUpdate) (*tasks.RunSummary, error)
}

// ModelOpts configures [NewModel].
type ModelOpts struct {
	Runner Runner
	Units  []models.UploadUnit
	// Entries maps unit identities to their ledger entries, if any.
	Entries map[string]*models.LedgerEntry
	// AutoStart skips the queue and confirmation views.
	AutoStart bool
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	view     ViewState
	runner   Runner
	units    []models.UploadUnit
	entries  map[string]*models.LedgerEntry
	width    int
	height   int
	queue    list.Model
	spinner  spinner.Model
	bar      progress.Model
	progress chan tasks.ProgressUpdate
	done     chan runResult
	active   map[string]tasks.UnitProgress
	order    []string
	finished int
	total    int
	recent   []string
	stopping bool
	summary  *tasks.RunSummary
	err      error
	help     help.Model
	keys     keyMap
	auto     bool
}

// NewModel creates a new TUI model. Cancelling ctx pauses the run like the stop key does.
func NewModel(ctx context.Context, opts ModelOpts) *Model {
	ctx, cancel := context.WithCancel(ctx)
	units := tasks.Plan(opts.Units)

	items := make([]list.Item, len(units))
	for i, u := range units {
		items[i] = unitItem{unit: u, entry: opts.Entries[u.Identity]}
	}
	queue := list.New(items, list.NewDefaultDelegate(), 0, 0)
	queue.Title = fmt.Sprintf("Upload queue (%d videos)", len(units))

	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		view:    QueueView,
		runner:  opts.Runner,
		units:   units,
		entries: opts.Entries,
		queue:   queue,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		active:  make(map[string]tasks.UnitProgress),
		total:   len(units),
		help:    help.New(),
		keys:    newKeyMap(),
		auto:    opts.AutoStart,
	}
}

// Summary returns the run summary once the run ended.
func (m *Model) Summary() *tasks.RunSummary { return m.summary }

// Err returns the error the run ended with.
func (m *Model) Err() error { return m.err }

// State returns the current view.
func (m *Model) State() ViewState { return m.view }

// Init starts the spinner, and the run when AutoStart is set.
func (m *Model) Init() tea.Cmd {
	if m.auto {
		m.view = UploadView
		return tea.Batch(m.spinner.Tick, m.startUpload())
	}
	return m.spinner.Tick
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.queue.SetSize(msg.Width-4, msg.Height-6)
		m.bar.Width = min(max(msg.Width-30, 20), 60)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case QueueView:
			return m.handleQueueKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case UploadView:
			return m.handleUploadKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			m.apply(msg.data.(tasks.ProgressUpdate))
			return m, m.waitForProgress()
		case MsgRunComplete:
			r := msg.data.(runResult)
			m.summary, m.err = r.summary, r.err
			m.view = ResultView
			if m.auto {
				return m, tea.Quit
			}
			return m, nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.view == QueueView {
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case QueueView:
		return m.renderQueue()
	case ConfirmView:
		return m.renderConfirm()
	case UploadView:
		return m.renderUpload()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleQueueKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.queue.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if len(m.units) > 0 {
			m.view = ConfirmView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.queue, cmd = m.queue.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = UploadView
		return m, m.startUpload()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = QueueView
	}
	return m, nil
}

// handleUploadKeys stops the run on request; units pause at their last checkpoint.
func (m *Model) handleUploadKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.stop) || key.Matches(msg, m.keys.quit) {
		if !m.stopping {
			m.stopping = true
			m.cancel()
		}
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) || key.Matches(msg, m.keys.enter) {
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) startUpload() tea.Cmd {
	m.progress = make(chan tasks.ProgressUpdate, 64)
	m.done = make(chan runResult, 1)

	go func(progress chan tasks.ProgressUpdate, done chan<- runResult) {
		summary, err := m.runner.Run(m.ctx, m.units, progress)
		done <- runResult{summary, err}
		close(progress)
	}(m.progress, m.done)

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progress, m.done
	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			r := <-done
			return runCompleteMsg(r.summary, r.err)
		}
		return progressUpdateMsg(update)
	}
}

// apply folds an update into the active unit table.
func (m *Model) apply(update tasks.ProgressUpdate) {
	if update.Message != "" {
		m.recent = append(m.recent, update.Message)
		if len(m.recent) > recentLines {
			m.recent = m.recent[len(m.recent)-recentLines:]
		}
	}

	data, ok := update.Data.(tasks.UnitProgress)
	if !ok || update.Phase == tasks.AttachCollection {
		return
	}

	if update.Phase.Terminal() {
		if _, seen := m.active[data.Identity]; seen {
			delete(m.active, data.Identity)
			m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == data.Identity })
		}
		m.finished++
		return
	}

	if _, seen := m.active[data.Identity]; !seen {
		m.order = append(m.order, data.Identity)
	}
	m.active[data.Identity] = data
}

func (m *Model) overall() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.finished) / float64(m.total)
}

func (m *Model) renderQueue() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.up, m.keys.down, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.queue.View(), helpView)
}

func (m *Model) renderConfirm() string {
	var size int64
	resumed := 0
	for _, u := range m.units {
		size += u.Size
		if e := m.entries[u.Identity]; e != nil && e.Resumable() {
			resumed++
		}
	}

	title := styles.title.Render(fmt.Sprintf("Upload %d videos to YouTube?", len(m.units)))
	info := fmt.Sprintf("Total size: %s\nResuming:   %d\n", shared.HumanBytes(size), resumed)
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderUpload() string {
	var b strings.Builder

	heading := "Uploading"
	if m.stopping {
		heading = "Pausing at the next checkpoint"
	}
	b.WriteString(styles.title.Render(fmt.Sprintf("%s %s", m.spinner.View(), heading)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d/%d videos\n\n", m.bar.ViewAs(m.overall()), m.finished, m.total)

	for _, id := range m.order {
		p := m.active[id]
		fmt.Fprintf(&b, "%-28s %s %s / %s\n",
			truncate(p.Name, 28), m.bar.ViewAs(p.Fraction()),
			shared.HumanBytes(p.Committed), shared.HumanBytes(p.Size))
	}

	if len(m.recent) > 0 {
		b.WriteString("\n")
		for _, line := range m.recent {
			b.WriteString(styles.help.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.stop}))
	return b.String()
}

func (m *Model) renderResult() string {
	if m.summary == nil {
		return styles.err.Render(fmt.Sprintf("Upload failed: %v\n\nPress q to quit", m.err))
	}

	title := styles.ok.Render("✓ Upload run finished")
	if !m.summary.OK() {
		title = styles.warn.Render("Upload run finished with problems")
	}

	body, err := formatter.SummaryToText(m.summary)
	if err != nil {
		body = []byte(err.Error())
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})
	return fmt.Sprintf("%s\n\n%s\n%s", title, body, helpView)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
