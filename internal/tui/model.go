// Package tui implements the operator console: the action awaiting a
// decision, its balance check and the queue behind it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/walletgate/internal/action"
)

const decideTimeout = 10 * time.Second

type snapshotMsg action.Snapshot

type sourceClosedMsg struct{}

type decisionMsg struct {
	id       string
	approved bool
	err      error
}

// Model is the operator console.
type Model struct {
	source   Source
	keys     KeyMap
	help     help.Model
	snap     action.Snapshot
	received bool
	cursor   int
	status   string
	err      error
	closed   bool
	width    int
}

// New creates a console model reading from source.
func New(source Source) Model {
	m := Model{
		source: source,
		keys:   DefaultKeyMap(),
		help:   help.New(),
	}
	m.syncBindings()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.source.Snapshots())
}

func waitForSnapshot(ch <-chan action.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return sourceClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) decide(id string, approved bool) tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), decideTimeout)
		defer cancel()
		return decisionMsg{id: id, approved: approved, err: src.Decide(ctx, id, approved)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = action.Snapshot(msg)
		m.received = true
		if m.cursor >= len(m.snap.Queue) {
			m.cursor = max(0, len(m.snap.Queue)-1)
		}
		m.syncBindings()
		return m, waitForSnapshot(m.source.Snapshots())

	case sourceClosedMsg:
		m.closed = true
		m.syncBindings()
		return m, nil

	case decisionMsg:
		verb := "rejected"
		if msg.approved {
			verb = "approved"
		}
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
		} else {
			m.err = nil
			m.status = fmt.Sprintf("%s %s", verb, shortID(msg.id))
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.snap.Queue)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Approve):
		if a, ok := m.awaiting(); ok && m.canApprove() {
			return m, m.decide(a.ID, true)
		}
	case key.Matches(msg, m.keys.Reject):
		if a, ok := m.awaiting(); ok {
			return m, m.decide(a.ID, false)
		}
	}
	return m, nil
}

// awaiting returns the action the operator can decide on.
func (m Model) awaiting() (action.WalletAction, bool) {
	if m.closed {
		return action.WalletAction{}, false
	}
	a, ok := m.snap.InDecision()
	if !ok || a.Status != action.StatusAwaitingUser {
		return action.WalletAction{}, false
	}
	return a, true
}

// canApprove applies the balance gate. A snapshot without a gate result
// for the awaiting action does not block approval.
func (m Model) canApprove() bool {
	a, ok := m.awaiting()
	if !ok {
		return false
	}
	g := m.snap.Gate
	if g == nil || g.ActionID != a.ID {
		return true
	}
	return g.Ready && !g.Insufficient
}

func (m *Model) syncBindings() {
	_, awaiting := m.awaiting()
	m.keys.Approve.SetEnabled(awaiting && m.canApprove())
	m.keys.Reject.SetEnabled(awaiting)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(Header.Render("walletgate operator console"))
	b.WriteString("\n")

	switch {
	case !m.received && !m.closed:
		b.WriteString(Muted.Render("waiting for queue..."))
		b.WriteString("\n")
	case len(m.snap.Queue) == 0:
		b.WriteString(Muted.Render("No pending actions."))
		b.WriteString("\n")
	default:
		b.WriteString(m.renderCurrent())
		b.WriteString("\n")
		b.WriteString(m.renderQueue())
	}

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderCurrent() string {
	a, ok := m.snap.InDecision()
	if !ok {
		head, _ := m.snap.Head()
		return ActionBox.Render(Muted.Render(fmt.Sprintf("%q is waiting for the wallet to unlock.", head.Title)))
	}

	var b strings.Builder
	b.WriteString(ActionTitle.Render(a.Title))
	b.WriteString(" ")
	b.WriteString(Badge(string(a.Status)))
	b.WriteString("\n")
	if a.Description != "" {
		b.WriteString(a.Description)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if a.HasAmount() {
		b.WriteString(row("Amount", Amount.Render(a.Amount+" "+a.TokenSymbol)))
	} else {
		b.WriteString(row("Amount", Muted.Render("authorization only")))
	}
	if a.Recipient != "" {
		b.WriteString(row("Recipient", a.Recipient))
	}
	for _, d := range a.Details {
		b.WriteString(row(d.Label, d.Value))
	}
	if line := m.gateLine(a); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}

	box := ActionBox
	if a.Status == action.StatusAwaitingUser {
		box = ActionBoxFocused
	}
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	return box.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) gateLine(a action.WalletAction) string {
	g := m.snap.Gate
	if g == nil || g.ActionID != a.ID {
		return ""
	}
	balance := ""
	if g.Balance != "" {
		balance = fmt.Sprintf(" (balance %s %s)", g.Balance, a.TokenSymbol)
	}
	switch {
	case g.Insufficient:
		return Error.Render("Insufficient balance" + balance)
	case !g.Ready:
		return Error.Render(g.Reason)
	case !g.Verified:
		return Warning.Render("Balance could not be verified")
	default:
		return Success.Render("Balance OK" + balance)
	}
}

func (m Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(Muted.Render(fmt.Sprintf("Queue (%d)", len(m.snap.Queue))))
	b.WriteString("\n")
	for i, a := range m.snap.Queue {
		amount := a.Amount
		if !a.HasAmount() {
			amount = "-"
		}
		line := fmt.Sprintf("%-3d %s %s %s",
			a.Position,
			lipgloss.NewStyle().Foreground(StatusColor(string(a.Status))).Render(fmt.Sprintf("%-13s", a.Status)),
			a.Title,
			Muted.Render(amount+" "+a.TokenSymbol))
		style := QueueRow
		if i == m.cursor {
			style = QueueRowSelected
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatus() string {
	switch {
	case m.closed:
		return StatusBar.Render(Error.Render("disconnected from mediator"))
	case m.err != nil:
		return StatusBar.Render(Error.Render(m.err.Error()))
	case m.status != "":
		return StatusBar.Render(m.status)
	default:
		return StatusBar.Render(fmt.Sprintf("version %d", m.snap.Version))
	}
}

func row(label, value string) string {
	return Label.Render(label) + value + "\n"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run starts the console and blocks until the operator quits or ctx ends.
func Run(ctx context.Context, source Source) error {
	p := tea.NewProgram(New(source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
