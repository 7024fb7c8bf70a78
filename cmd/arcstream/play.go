package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mindgrid/arcstream/internal/client"
	"github.com/mindgrid/arcstream/internal/session"
)

func runPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8070", "base URL for the game host API")
	token := fs.String("token", os.Getenv("ARCSTREAM_API_TOKEN"), "Bearer token for API auth")
	agentName := fs.String("agent", "arcstream-play", "agent name reported to the host")
	model := fs.String("model", "", "model name requested for the run")
	maxTurns := fs.Int("max-turns", 0, "turn cap before the agent pauses for input (0 uses the host default)")
	instructions := fs.String("instructions", "", "initial instruction for the agent")
	credential := fs.String("credential", "", "caller-supplied credential")
	requireCredential := fs.Bool("require-credential", false, "refuse to start without a credential")
	strict := fs.Bool("strict", false, "drop events that arrive out of sequence order")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: arcstream play [flags] <game_id>")
	}

	// Controller logs would corrupt the alt screen.
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	backend := client.New(strings.TrimRight(*apiBase, "/"), *token, logger)
	ctrl := session.NewController(backend, session.Options{
		RequireCredential: *requireCredential,
		DropStaleEvents:   *strict,
	}, logger)

	cfg := session.StartConfig{
		GameID:       fs.Arg(0),
		AgentName:    *agentName,
		Model:        *model,
		Instructions: *instructions,
		MaxTurns:     *maxTurns,
		Credential:   *credential,
	}

	p := tea.NewProgram(newPlayModel(ctrl, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type updatedMsg struct{}

type startedMsg struct {
	Err error
}

type actionDoneMsg struct {
	Err error
}

type continueDoneMsg struct {
	Err error
}

type playModel struct {
	ctrl     *session.Controller
	startCfg session.StartConfig
	ctx      context.Context

	width  int
	height int
	snap   session.Snapshot

	cursorX int
	cursorY int

	inputting bool
	input     string
	notice    string
}

func newPlayModel(ctrl *session.Controller, cfg session.StartConfig) playModel {
	return playModel{
		ctrl:     ctrl,
		startCfg: cfg,
		ctx:      context.Background(),
		snap:     ctrl.Snapshot(),
	}
}

func (m playModel) Init() tea.Cmd {
	return tea.Batch(
		startSessionCmd(m.ctx, m.ctrl, m.startCfg),
		waitForUpdateCmd(m.ctrl.Updates()),
	)
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case updatedMsg:
		m.snap = m.ctrl.Snapshot()
		return m, waitForUpdateCmd(m.ctrl.Updates())
	case startedMsg:
		if msg.Err != nil {
			m.notice = "start failed: " + msg.Err.Error()
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case actionDoneMsg:
		if msg.Err != nil {
			m.notice = "action failed: " + msg.Err.Error()
		} else {
			m.notice = ""
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case continueDoneMsg:
		if msg.Err != nil {
			m.notice = "continue failed: " + msg.Err.Error()
		} else {
			m.notice = ""
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case tea.KeyMsg:
		if m.inputting {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	default:
		return m, nil
	}
}

func (m playModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input)
		m.inputting = false
		m.input = ""
		if text == "" {
			return m, nil
		}
		return m, continueSessionCmd(m.ctx, m.ctrl, text)
	case tea.KeyEsc:
		m.inputting = false
		m.input = ""
		return m, nil
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input += " "
		return m, nil
	case tea.KeyRunes:
		m.input += string(msg.Runes)
		return m, nil
	default:
		return m, nil
	}
}

func (m playModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.Cancel()
		return m, tea.Quit
	case "c":
		m.ctrl.Cancel()
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case "s":
		if m.snap.State == session.StateIdle || m.snap.State.Terminal() {
			m.notice = ""
			return m, startSessionCmd(m.ctx, m.ctrl, m.startCfg)
		}
		return m, nil
	case "enter":
		if m.snap.State == session.StatePaused {
			m.inputting = true
			m.input = ""
		}
		return m, nil
	case "up":
		m.cursorY = clampCursor(m.cursorY-1, m.gridSize())
		return m, nil
	case "down":
		m.cursorY = clampCursor(m.cursorY+1, m.gridSize())
		return m, nil
	case "left":
		m.cursorX = clampCursor(m.cursorX-1, m.gridSize())
		return m, nil
	case "right":
		m.cursorX = clampCursor(m.cursorX+1, m.gridSize())
		return m, nil
	case "t":
		return m, executeActionCmd(m.ctx, m.ctrl, "toggle", &client.Coordinates{X: m.cursorX, Y: m.cursorY})
	case "i":
		return m, executeActionCmd(m.ctx, m.ctrl, "inspect", nil)
	case "[":
		m.ctrl.ScrubBy(-1)
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case "]":
		m.ctrl.ScrubBy(1)
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case "g":
		m.ctrl.ScrubTo(0)
		m.snap = m.ctrl.Snapshot()
		return m, nil
	case "G":
		m.ctrl.ScrubTo(m.snap.FrameCount - 1)
		m.snap = m.ctrl.Snapshot()
		return m, nil
	default:
		return m, nil
	}
}

func (m playModel) gridSize() int {
	if m.snap.HasFrame {
		return len(m.snap.Frame.Grid)
	}
	return 1
}

func clampCursor(v, size int) int {
	if v < 0 {
		return 0
	}
	if v > size-1 {
		return size - 1
	}
	return v
}

func (m playModel) View() string {
	accent := lipgloss.Color("#22D3EE")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#06121A")).
		Background(accent).
		Padding(0, 1).
		Render("ArcStream Play")

	statusStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#06121A")).
		Background(accent).
		Padding(0, 1)
	switch m.snap.State {
	case session.StateIdle, session.StateStarting:
		statusStyle = statusStyle.Background(lipgloss.Color("#6B7280"))
	case session.StatePaused:
		statusStyle = statusStyle.Background(lipgloss.Color("#FBBF24"))
	case session.StateCompleted:
		statusStyle = statusStyle.Background(lipgloss.Color("#34D399"))
	case session.StateError:
		statusStyle = statusStyle.Background(lipgloss.Color("#EF4444")).Foreground(lipgloss.Color("#FEF2F2"))
	case session.StateCancelled:
		statusStyle = statusStyle.Background(lipgloss.Color("#9CA3AF"))
	}
	status := statusStyle.Render(strings.ToUpper(string(m.snap.State)))

	sessionLabel := m.snap.Info.SessionID
	if sessionLabel == "" {
		sessionLabel = "-"
	}
	frameLabel := "-"
	if m.snap.FrameCount > 0 {
		frameLabel = fmt.Sprintf("%d/%d", m.snap.FrameIndex+1, m.snap.FrameCount)
		if m.snap.OnLatest {
			frameLabel += " (live)"
		}
	}
	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#67E8F9")).
		Render(fmt.Sprintf("game=%s  session=%s  turn=%d  score=%.0f  frame=%s",
			m.startCfg.GameID, sessionLabel, m.snap.Info.Turn, m.snap.Info.Score, frameLabel))

	panelWidth := bodyWidth(m.width)
	gridHeight, timelineHeight := playPanelHeights(m.height)

	gridPanel := renderPanel("Board", m.gridLines(), panelWidth, gridHeight, accent, true)
	timelinePanel := renderPanel("Timeline", m.timelineLines(), panelWidth, timelineHeight, accent, false)

	footerText := "s: start  c: cancel  arrows: cursor  t: toggle  i: inspect  [ ]: scrub  g/G: first/latest  q: quit"
	if m.snap.State == session.StatePaused {
		footerText = "enter: send instruction  " + footerText
	}
	if m.inputting {
		footerText = "instruction> " + m.input + "█  (enter: send, esc: cancel)"
	}
	footer := lipgloss.NewStyle().Foreground(lipgloss.Color("#67E8F9")).Render(footerText)

	lines := []string{title + " " + status, meta, gridPanel, timelinePanel}
	if m.notice != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Render(m.notice))
	}
	if m.snap.Err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Render("error: "+m.snap.Err.Error()))
	}
	lines = append(lines, footer)
	return strings.Join(lines, "\n")
}

func (m playModel) gridLines() []string {
	if !m.snap.HasFrame {
		if m.snap.State == session.StateStarting {
			return []string{"waiting for first frame..."}
		}
		return []string{"no frames yet"}
	}

	lit := lipgloss.NewStyle().Foreground(lipgloss.Color("#FDE047"))
	dark := lipgloss.NewStyle().Foreground(lipgloss.Color("#334155"))
	cursor := lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)

	frame := m.snap.Frame
	lines := make([]string, 0, len(frame.Grid)+1)
	for y, row := range frame.Grid {
		var b strings.Builder
		for x, v := range row {
			cell := "░░"
			style := dark
			if v == 1 {
				cell = "▓▓"
				style = lit
			}
			if m.snap.OnLatest && x == m.cursorX && y == m.cursorY {
				style = cursor
			}
			b.WriteString(style.Render(cell))
		}
		lines = append(lines, b.String())
	}
	lines = append(lines, fmt.Sprintf("actions %d used / %d left  turn %d",
		frame.ActionsUsed, frame.ActionsRemaining, frame.Turn))
	if frame.Terminal {
		lines = append(lines, "board is final")
	}
	return lines
}

func (m playModel) timelineLines() []string {
	if m.snap.Message != "" && m.snap.State == session.StatePaused {
		return append(m.entryLines(), "", "host: "+m.snap.Message)
	}
	return m.entryLines()
}

func (m playModel) entryLines() []string {
	entries := m.snap.Entries
	if len(entries) == 0 {
		return []string{"waiting for events..."}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			e.At.Local().Format("15:04:05"), e.Label, trimForLog(e.Content, 120)))
	}
	return lines
}

func playPanelHeights(terminalHeight int) (grid, timeline int) {
	available := terminalHeight - 6
	if available < 16 {
		available = 16
	}
	grid = 12
	timeline = available - grid
	if timeline < 6 {
		timeline = 6
	}
	return grid, timeline
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color, keepHead bool) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if contentHeight < 1 {
		contentHeight = 1
	}
	if len(lines) > contentHeight {
		if keepHead {
			lines = lines[:contentHeight]
		} else {
			lines = lines[len(lines)-contentHeight:]
		}
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(lines, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Foreground(lipgloss.Color("#E2E8F0")).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

func trimForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func waitForUpdateCmd(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return updatedMsg{}
	}
}

func startSessionCmd(ctx context.Context, ctrl *session.Controller, cfg session.StartConfig) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{Err: ctrl.Start(ctx, cfg)}
	}
}

func executeActionCmd(ctx context.Context, ctrl *session.Controller, action string, coords *client.Coordinates) tea.Cmd {
	return func() tea.Msg {
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_, err := ctrl.ExecuteAction(callCtx, action, coords)
		return actionDoneMsg{Err: err}
	}
}

func continueSessionCmd(ctx context.Context, ctrl *session.Controller, message string) tea.Cmd {
	return func() tea.Msg {
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return continueDoneMsg{Err: ctrl.Continue(callCtx, message)}
	}
}
