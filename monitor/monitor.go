// Package monitor is a live terminal view of one OpenVPN daemon: state,
// load statistics, connected clients and recent client events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
	"github.com/yllada/ovpn-mgmt/models"
)

const maxEventLines = 8

// Source is what the monitor polls. *vpn.VPN satisfies it.
type Source interface {
	GetState(ctx context.Context) (*models.State, error)
	GetStats(ctx context.Context) (*models.ServerStats, error)
	GetStatus(ctx context.Context) (*models.Status, error)
	Kill(ctx context.Context, target string) error
}

type tickMsg time.Time

type refreshMsg struct {
	state  *models.State
	stats  *models.ServerStats
	status *models.Status
	err    error
	at     time.Time
}

type eventMsg struct{ ev *events.ClientEvent }

type killDoneMsg struct {
	target string
	err    error
}

type styles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	panel   lipgloss.Style
	title   lipgloss.Style
	status  lipgloss.Style
	errText lipgloss.Style
	help    lipgloss.Style
}

func newStyles() styles {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(mint).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue),
		label: lipgloss.NewStyle().Foreground(muted),
		value: lipgloss.NewStyle().Bold(true),
		panel: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		title:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		status:  lipgloss.NewStyle().Foreground(blue),
		errText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		help:    lipgloss.NewStyle().Foreground(muted),
	}
}

// Model is the bubbletea model of the monitor.
type Model struct {
	src      Source
	server   string
	interval time.Duration
	timeout  time.Duration
	eventsCh <-chan *events.ClientEvent

	table  table.Model
	styles styles

	state       *models.State
	stats       *models.ServerStats
	status      *models.Status
	lastRefresh time.Time
	refreshing  bool
	err         error
	statusLine  string
	eventLines  []string

	width  int
	height int
}

// New builds a monitor polling src every interval. server labels the
// header.
func New(src Source, server string, interval time.Duration) Model {
	if interval <= 0 {
		interval = common.MonitorInterval
	}
	columns := []table.Column{
		{Title: "Common Name", Width: 20},
		{Title: "Real Address", Width: 22},
		{Title: "Received", Width: 11},
		{Title: "Sent", Width: 11},
		{Title: "Connected", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true)
	t.SetStyles(ts)

	return Model{
		src:      src,
		server:   server,
		interval: interval,
		timeout:  common.CommandTimeout,
		table:    t,
		styles:   newStyles(),
	}
}

// WithEvents makes the monitor show client events read from ch.
func (m Model) WithEvents(ch <-chan *events.ClientEvent) Model {
	m.eventsCh = ch
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickEvery(m.interval), waitForEvent(m.eventsCh))
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(ch <-chan *events.ClientEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	src := m.src
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var msg refreshMsg
		var errs []error
		var err error
		if msg.state, err = src.GetState(ctx); err != nil {
			errs = append(errs, fmt.Errorf("state: %w", err))
		}
		if msg.stats, err = src.GetStats(ctx); err != nil {
			errs = append(errs, fmt.Errorf("load-stats: %w", err))
		}
		if msg.status, err = src.GetStatus(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status: %w", err))
		}
		msg.err = errors.Join(errs...)
		msg.at = time.Now()
		return msg
	}
}

func (m Model) killCmd(target string) tea.Cmd {
	src := m.src
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return killDoneMsg{target: target, err: src.Kill(ctx, target)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case refreshMsg:
		m.refreshing = false
		m.err = msg.err
		if msg.state != nil {
			m.state = msg.state
		}
		if msg.stats != nil {
			m.stats = msg.stats
		}
		if msg.status != nil {
			m.status = msg.status
			m.table.SetRows(clientRows(msg.status, msg.at))
		}
		m.lastRefresh = msg.at
	case tickMsg:
		if !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, m.refreshCmd())
		}
		cmds = append(cmds, tickEvery(m.interval))
	case eventMsg:
		m.eventLines = append(m.eventLines, formatEvent(msg.ev, time.Now()))
		if len(m.eventLines) > maxEventLines {
			m.eventLines = m.eventLines[len(m.eventLines)-maxEventLines:]
		}
		cmds = append(cmds, waitForEvent(m.eventsCh))
		if msg.ev.Type == events.ClientEstablished || msg.ev.Type == events.ClientDisconnect {
			if !m.refreshing {
				m.refreshing = true
				cmds = append(cmds, m.refreshCmd())
			}
		}
	case killDoneMsg:
		if msg.err != nil {
			m.statusLine = fmt.Sprintf("kill %s failed: %v", msg.target, msg.err)
		} else {
			m.statusLine = "killed " + msg.target
			m.refreshing = true
			cmds = append(cmds, m.refreshCmd())
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 14 - maxEventLines; h > 3 {
			m.table.SetHeight(h)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.refreshing {
				return m, nil
			}
			m.refreshing = true
			m.statusLine = "refreshing"
			return m, m.refreshCmd()
		case "k":
			row := m.table.SelectedRow()
			if len(row) == 0 {
				return m, nil
			}
			m.statusLine = "killing " + row[0]
			return m, m.killCmd(row[0])
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func clientRows(status *models.Status, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(status.Clients))
	for _, c := range status.Clients {
		since := ""
		if !c.ConnectedSince.IsZero() {
			since = common.FormatDuration(now.Sub(c.ConnectedSince))
		}
		rows = append(rows, table.Row{
			c.CommonName,
			c.RealAddress,
			common.FormatBytes(c.BytesReceived),
			common.FormatBytes(c.BytesSent),
			since,
		})
	}
	return rows
}

func formatEvent(ev *events.ClientEvent, at time.Time) string {
	who := ev.CommonName()
	if who == "" {
		who = fmt.Sprintf("cid %d", ev.ClientID)
	}
	line := fmt.Sprintf("%s %-11s %s", at.Format("15:04:05"), ev.Type, who)
	if ev.Type == events.ClientAddress {
		line += " -> " + ev.Address
	} else if ip, ok := ev.Env("untrusted_ip"); ok {
		line += " from " + ip
	}
	return line
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.header.Render(common.AppName + " monitor · " + m.server))
	b.WriteString("\n")
	b.WriteString(m.renderSummary())
	b.WriteString("\n")
	b.WriteString(m.styles.title.Render("Clients"))
	b.WriteString("\n")
	b.WriteString(m.styles.panel.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(m.styles.title.Render("Events"))
	b.WriteString("\n")
	b.WriteString(m.styles.panel.Render(m.renderEvents()))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderSummary() string {
	field := func(label, value string) string {
		return m.styles.label.Render(label+": ") + m.styles.value.Render(value)
	}

	state, mode, since := "-", "-", "-"
	if m.state != nil {
		state = m.state.Name
		mode = string(m.state.Mode())
		if !m.state.UpSince.IsZero() {
			since = m.state.UpSince.Local().Format("2006-01-02 15:04:05")
		}
	}
	clients, in, out := "-", "-", "-"
	if m.stats != nil {
		clients = fmt.Sprintf("%d", m.stats.ClientCount)
		in = common.FormatBytes(m.stats.BytesIn)
		out = common.FormatBytes(m.stats.BytesOut)
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		field("State", state),
		field("Mode", mode),
		field("Up since", since),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		field("Clients", clients),
		field("Bytes in", in),
		field("Bytes out", out),
	)
	return m.styles.panel.Render(lipgloss.JoinHorizontal(lipgloss.Top, left, "    ", right))
}

func (m Model) renderEvents() string {
	if len(m.eventLines) == 0 {
		return m.styles.label.Render("no client events yet")
	}
	return strings.Join(m.eventLines, "\n")
}

func (m Model) renderFooter() string {
	var parts []string
	if m.err != nil {
		parts = append(parts, m.styles.errText.Render(m.err.Error()))
	} else if m.statusLine != "" {
		parts = append(parts, m.styles.status.Render(m.statusLine))
	}
	if !m.lastRefresh.IsZero() {
		parts = append(parts, m.styles.label.Render("updated "+m.lastRefresh.Format("15:04:05")))
	}
	parts = append(parts, m.styles.help.Render("↑/↓ select · k kill · r refresh · q quit"))
	return strings.Join(parts, "  ")
}

// Run shows the monitor until the user quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
