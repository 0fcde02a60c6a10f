package cli

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/catalogbridge/internal/service"
)

const pollInterval = 250 * time.Millisecond

// tickMsg triggers polling the job state
type tickMsg time.Time

// progressModel is the bubbletea model for a running batch.
type progressModel struct {
	job      *service.Job
	snap     service.Job
	progress progress.Model
	done     bool
	quitting bool
	err      error
}

func newProgressModel(job *service.Job) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		job:      job,
		snap:     job.Snapshot(),
		progress: prog,
	}
}

// Init starts polling.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.snap = m.job.Snapshot()
		switch m.snap.Status {
		case service.JobStatusCompleted:
			m.done = true
			return m, tea.Quit
		case service.JobStatusFailed:
			m.done = true
			m.err = fmt.Errorf("%s", m.snap.Error)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.snap.Total > 0 {
		pct = float64(m.snap.Progress) / float64(m.snap.Total)
	}

	status := theme.status().Render(fmt.Sprintf("[%s]", m.snap.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d products", m.snap.Progress, m.snap.Total)
	hint := theme.hint().Render("Press q to cancel")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		return theme.hint().Render(fmt.Sprintf("\nCancelling job %s...\n", m.snap.ID))
	}
	if m.err != nil {
		return theme.failure().Render(fmt.Sprintf("✗ Job %s failed: %s\n", m.snap.ID, m.err))
	}
	return theme.success().Render(fmt.Sprintf("✓ Job %s completed\n", m.snap.ID))
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress shows a progress bar until job finishes or the user quits.
// It returns true when the user asked to cancel.
func runJobProgress(job *service.Job) (bool, error) {
	p := tea.NewProgram(newProgressModel(job))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(progressModel); ok && m.quitting {
		return true, nil
	}
	return false, nil
}
