package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/mapview/internal/events"
)

// TUIRenderer provides a live per-view progress panel using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails for non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newSyncModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	ctx, r.cancel = context.WithCancel(ctx)
	opts = append(opts, tea.WithContext(ctx))

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Handle implements Renderer.
func (r *TUIRenderer) Handle(ev events.Event) {
	r.tracker.Handle(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(eventMsg(ev))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(s))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()

	// An unresponsive program must not hang the process on Ctrl+C.
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	r.cancel()
	return nil
}

type eventMsg events.Event
type completeMsg Summary

// syncModel is the bubbletea model for sync progress.
type syncModel struct {
	tracker  *ProgressTracker
	title    string
	width    int
	quitting bool
	complete bool
	summary  Summary
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newSyncModel(tracker *ProgressTracker, title string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &syncModel{
		tracker: tracker,
		title:   title,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width/3)
	case eventMsg:
		return m, nil
	case completeMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *syncModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	title := "mapview sync"
	if m.title != "" {
		title += " • " + m.title
	}

	lines := []string{m.styles.Header.Render(title), ""}
	rows := m.tracker.Rows()
	if len(rows) == 0 {
		lines = append(lines, m.spinner.View()+" "+m.styles.Dim.Render("Waiting for archives..."))
	}
	for _, r := range rows {
		lines = append(lines, m.renderRow(r))
	}
	if status := m.renderStatusBar(); status != "" {
		lines = append(lines, "", status)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *syncModel) renderRow(r ViewProgress) string {
	icon := m.spinner.View()
	if r.Done {
		icon = m.styles.Success.Render("●")
	}
	label := fmt.Sprintf("%s %s", truncate(r.Archive, 32), m.styles.Active.Render(r.View))
	count := m.styles.Label.Render(fmt.Sprintf("%d/%d  v%d", r.Current, r.Total, r.To))
	return fmt.Sprintf("%s %s  %s  %s", icon, label, m.bar.ViewAs(r.Fraction()), count)
}

func (m *syncModel) renderStatusBar() string {
	var missing, failed int
	for _, e := range m.tracker.Errors() {
		if e.Missing {
			missing++
		} else {
			failed++
		}
	}
	var parts []string
	if missing > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d unreachable", missing)))
	}
	if failed > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", failed)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *syncModel) renderComplete() string {
	s := m.summary
	lines := []string{
		m.styles.Success.Render("✓ Sync complete"),
		"",
		fmt.Sprintf("%s %d", m.styles.Label.Render("Archives:"), s.Archives),
		fmt.Sprintf("%s    %d", m.styles.Label.Render("Views:"), s.Views),
		fmt.Sprintf("%s  %d", m.styles.Label.Render("Updates:"), s.Updates),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"), formatDuration(s.Duration)),
	}
	if s.Errors > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(40, m.width-4))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to n runes, keeping the tail.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return "..." + string(r[len(r)-n+3:])
}

var _ Renderer = (*TUIRenderer)(nil)
