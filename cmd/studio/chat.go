package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/controller"
	"github.com/nstogner/studio/pkg/domain"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with a model in the terminal",
		Long: `Chat with a model in the terminal.

Commands inside the chat:
  /model   pick another model
  /clear   start a new transcript
  /exit    quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// The terminal belongs to the UI; logs go to a file.
			if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(filepath.Join(a.cfg.DataDir, "studio.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			a.setLogger(f)

			ctrl, closeStore, err := a.newController(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p := tea.NewProgram(newChatModel(ctx, ctrl), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	messageStyle = lipgloss.NewStyle().PaddingLeft(2)

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type chatState int

const (
	stateSelectingModel chatState = iota
	stateChatting
)

type (
	errMsg           struct{ err error }
	streamStartedMsg struct {
		stream *chat.Stream
		cancel context.CancelFunc
	}
	fragmentMsg   string
	streamDoneMsg struct{}
	streamErrMsg  struct{ err error }
)

// displayMessage is one bubble on screen. Failed sends show the error as
// an assistant bubble.
type displayMessage struct {
	role domain.Role
	text string
	err  bool
}

type chatModel struct {
	ctx            context.Context
	ctrl           *controller.Controller
	conversationID string

	state      chatState
	models     []domain.ModelDescriptor
	active     domain.ModelDescriptor
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer

	messages []displayMessage
	reply    strings.Builder

	// Set while a reply is streaming.
	next   func() (string, error, bool)
	stop   func()
	cancel context.CancelFunc
}

func newChatModel(ctx context.Context, ctrl *controller.Controller) *chatModel {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	m := &chatModel{
		ctx:            ctx,
		ctrl:           ctrl,
		conversationID: uuid.NewString(),
		state:          stateSelectingModel,
		models:         ctrl.Models(),
		viewport:       vp,
		textarea:       ta,
		renderer:       r,
	}
	active := ctrl.Settings().ActiveModelID
	for i, d := range m.models {
		if d.ID == active {
			m.cursor = i
			m.active = d
		}
	}
	return m
}

func (m *chatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// Keys only reach the textarea while chatting, so Enter in the model
	// list doesn't leak into the input.
	var tiCmd, vpCmd tea.Cmd
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.clampList()
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.abort()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming() {
				m.abort()
				return m, nil
			}
			if m.state == stateChatting {
				return m, tea.Quit
			}
			if m.active.ID != "" {
				m.state = stateChatting
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case stateSelectingModel:
				return m, m.selectModel()
			case stateChatting:
				m.err = nil
				return m, m.sendMessage()
			}
		case tea.KeyUp:
			if m.state == stateSelectingModel && m.cursor > 0 {
				m.cursor--
				m.clampList()
			}
		case tea.KeyDown:
			if m.state == stateSelectingModel && m.cursor < len(m.models)-1 {
				m.cursor++
				m.clampList()
			}
		}

	case streamStartedMsg:
		m.next, m.stop = iter.Pull2(msg.stream.All())
		m.cancel = msg.cancel
		m.reply.Reset()
		m.refresh()
		return m, m.nextFragment()

	case fragmentMsg:
		m.reply.WriteString(string(msg))
		m.refresh()
		return m, m.nextFragment()

	case streamDoneMsg:
		m.messages = append(m.messages, displayMessage{role: domain.RoleAssistant, text: m.reply.String()})
		m.finishStream()
		m.refresh()

	case streamErrMsg:
		slog.Warn("Chat send failed", "conversationID", m.conversationID, "error", msg.err)
		m.messages = append(m.messages, displayMessage{role: domain.RoleAssistant, text: msg.err.Error(), err: true})
		m.finishStream()
		m.refresh()

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m *chatModel) streaming() bool { return m.next != nil }

// abort cancels the in-flight request. The stream then fails with the
// context error and the pending turn is discarded.
func (m *chatModel) abort() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *chatModel) finishStream() {
	if m.stop != nil {
		m.stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.next, m.stop, m.cancel = nil, nil, nil
	m.reply.Reset()
}

func (m *chatModel) nextFragment() tea.Cmd {
	next := m.next
	return func() tea.Msg {
		frag, err, ok := next()
		switch {
		case !ok:
			return streamDoneMsg{}
		case err != nil:
			return streamErrMsg{err}
		default:
			return fragmentMsg(frag)
		}
	}
}

func (m *chatModel) clampList() {
	maxViewable := max(m.height-7, 1)
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+maxViewable {
		m.listOffset = m.cursor - maxViewable + 1
	}
	m.listOffset = max(m.listOffset, 0)
}

func (m *chatModel) selectModel() tea.Cmd {
	if len(m.models) == 0 {
		return nil
	}
	selected := m.models[m.cursor]
	settings := m.ctrl.Settings()
	settings.ActiveModelID = selected.ID
	if _, err := m.ctrl.UpdateSettings(m.ctx, settings); err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	m.active = selected
	m.state = stateChatting
	m.textarea.Focus()
	m.refresh()
	return nil
}

func (m *chatModel) sendMessage() tea.Cmd {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" || m.streaming() {
		return nil
	}
	m.textarea.Reset()

	switch v {
	case "/exit":
		return tea.Quit
	case "/model":
		m.state = stateSelectingModel
		return nil
	case "/clear":
		m.ctrl.ClearConversation(m.ctx, m.conversationID)
		m.messages = nil
		m.refresh()
		return nil
	}

	m.messages = append(m.messages, displayMessage{role: domain.RoleUser, text: v})
	m.refresh()

	ctx, cancel := context.WithCancel(m.ctx)
	return func() tea.Msg {
		stream, err := m.ctrl.Send(ctx, m.conversationID, chat.Input{Text: v})
		if err != nil {
			cancel()
			return streamErrMsg{err}
		}
		return streamStartedMsg{stream: stream, cancel: cancel}
	}
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	var sb strings.Builder
	for _, msg := range m.messages {
		m.writeMessage(&sb, msg)
	}
	if m.streaming() {
		m.writeMessage(&sb, displayMessage{role: domain.RoleAssistant, text: m.reply.String() + "▍"})
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *chatModel) writeMessage(sb *strings.Builder, msg displayMessage) {
	switch msg.role {
	case domain.RoleUser:
		sb.WriteString(userStyle.Render("You: "))
	default:
		sb.WriteString(senderStyle.Render(m.active.Name + ": "))
	}
	sb.WriteString("\n")

	switch {
	case msg.err:
		sb.WriteString(messageStyle.Render(errorStyle.Render("Error: " + msg.text)))
	case msg.role == domain.RoleAssistant && m.renderer != nil:
		rendered, err := m.renderer.Render(msg.text)
		if err != nil {
			rendered = messageStyle.Render(msg.text)
		}
		sb.WriteString(rendered)
	default:
		sb.WriteString(messageStyle.Render(msg.text))
	}
	sb.WriteString("\n")
}

func (m *chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if m.state == stateSelectingModel {
		header := titleStyle.Render("Select Model")
		end := min(m.listOffset+max(m.height-7, 1), len(m.models))

		var optionsView []string
		for i := m.listOffset; i < end; i++ {
			d := m.models[i]
			cursor := " "
			line := fmt.Sprintf("%s (%s)", d.Name, d.Provider)
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			if d.Description != "" {
				line += " " + dimStyle.Render(d.Description)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	footer := dimStyle.Render("Enter to send, Esc to stop a reply or quit, /model to switch, /clear to reset.")
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(m.active.Name),
		"",
		m.viewport.View(),
		errorView,
		m.textarea.View(),
		footer,
	)
}
