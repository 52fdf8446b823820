package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickerguard/pkg/bus"
	"tickerguard/pkg/channel"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	roleUser    = "user"
	roleBot     = "bot"
	roleRemoved = "removed"
	roleError   = "error"

	wheelStep = 3
)

type entry struct {
	role    string
	id      string
	content string
}

type botReplyMsg struct {
	chatID string
	text   string
}

type messageRemovedMsg struct {
	messageID string
}

type submittedMsg struct {
	id  string
	err error
}

type bootTickMsg struct{}

type model struct {
	ctx      context.Context
	handler  channel.Handler
	outbound <-chan tea.Msg
	nextID   func() string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	inflight  int
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	sent      int
	replies   int
	removed   int
}

func newModel(ctx context.Context, handler channel.Handler, outbound <-chan tea.Msg, nextID func() string) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something, or try !stock AAPL"
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		handler:   handler,
		outbound:  outbound,
		nextID:    nextID,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(bootTickCmd(), waitForOutbound(m.ctx, m.outbound))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case botReplyMsg:
		m.entries = append(m.entries, entry{role: roleBot, content: typed.text})
		m.replies++
		m.refreshViewport(false)
		return m, waitForOutbound(m.ctx, m.outbound)
	case messageRemovedMsg:
		m.markRemoved(typed.messageID)
		m.removed++
		m.refreshViewport(false)
		return m, waitForOutbound(m.ctx, m.outbound)
	case submittedMsg:
		m.inflight = max(0, m.inflight-1)
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.entries = append(m.entries, entry{role: roleError, id: typed.id, content: typed.err.Error()})
			m.refreshViewport(false)
		}
		return m, nil
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}
		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			id := m.nextID()
			m.lastErr = ""
			m.entries = append(m.entries, entry{role: roleUser, id: id, content: text})
			m.sent++
			m.inflight++
			m.input.SetValue("")
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, submitCmd(m.ctx, m.handler, id, text))
		}
	}

	m.input, cmd = m.input.Update(msg)

	if typed, ok := msg.(spinner.TickMsg); ok {
		if m.inflight == 0 {
			return m, cmd
		}
		var spinCmd tea.Cmd
		m.spinner, spinCmd = m.spinner.Update(typed)
		return m, tea.Batch(cmd, spinCmd)
	}

	return m, cmd
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📈 TickerGuard Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"channel:%s · chat:%s · sent:%d · replies:%d · removed:%d",
		channelName, ChatID, m.sent, m.replies, m.removed,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.inflight > 0 {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ moderating...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last message was not delivered")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("💬 "+SenderName)+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

// markRemoved flips a typed message to the removed marker. Deletions for
// messages no longer in the transcript still leave a marker.
func (m *model) markRemoved(messageID string) {
	for i := range m.entries {
		if m.entries[i].role == roleUser && m.entries[i].id == messageID {
			m.entries[i].role = roleRemoved
			return
		}
	}
	m.entries = append(m.entries, entry{role: roleRemoved, id: messageID})
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	switch item.role {
	case roleUser:
		return renderCard(
			m.theme.userTitle.Render("▛▚ [ "+SenderName+" #"+item.id+" ] ▞▜"),
			m.theme.userBox.Width(m.viewport.Width).Render(item.content),
		)
	case roleBot:
		return renderCard(
			m.theme.botTitle.Render("▛▚ [ 🤖 bot ] ▞▜"),
			m.theme.botBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
		)
	case roleRemoved:
		body := "message removed"
		if item.content != "" {
			body = item.content + "\n" + m.theme.hint.Render("message removed")
		}
		return renderCard(
			m.theme.removedTitle.Render("▛▚ [ 🗑 #"+item.id+" ] ▞▜"),
			m.theme.removedBox.Width(m.viewport.Width).Render(body),
		)
	default:
		return renderCard(
			m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"),
			m.theme.errorBox.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
		)
	}
}

func renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📈 TickerGuard Console")
	meta := m.theme.headerMeta.Render("boot sequence")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := range count {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ console online"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loading banned word list",
		"[BOOT] attaching moderation classifier",
		"[BOOT] registering commands",
	}
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(wheelStep)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func submitCmd(ctx context.Context, handler channel.Handler, id string, text string) tea.Cmd {
	return func() tea.Msg {
		err := handler(ctx, bus.InboundMessage{
			Channel:    channelName,
			MessageID:  id,
			ChatID:     ChatID,
			SenderID:   SenderID,
			SenderName: SenderName,
			Content:    text,
		})
		return submittedMsg{id: id, err: err}
	}
}

func waitForOutbound(ctx context.Context, outbound <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-outbound:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
