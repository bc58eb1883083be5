package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradewire/internal/dispatch"
	"tradewire/internal/domain"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tabTrades = iota
	tabQueue
	tabConditions
	tabCount

	refreshEvery = 5 * time.Second
	fetchTimeout = 3 * time.Second
	tradeLimit   = 40
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tabStyle   = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("245"))
	activeTab  = lipgloss.NewStyle().Padding(0, 2).Bold(true).
			Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	statLabel  = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("245"))
	statValue  = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	frameStyle = lipgloss.NewStyle().Padding(1, 2)
)

type tickMsg time.Time

type dataMsg struct {
	trades     []*domain.Trade
	stats      *dispatch.Stats
	conditions []*domain.AlertCondition
}

type errMsg struct{ err error }

// AppModel is the SSH dashboard: three tabs over the trade ledger, the
// delivery queue and the alert conditions, refreshed on a timer.
type AppModel struct {
	svc     Services
	tab     int
	width   int
	height  int
	loading bool
	err     error

	spin       spinner.Model
	trades     table.Model
	conditions table.Model
	stats      *dispatch.Stats
	fetchedAt  time.Time
}

func NewAppModel(svc Services) *AppModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	trades := table.New(
		table.WithColumns([]table.Column{
			{Title: "Config", Width: 28},
			{Title: "#", Width: 4},
			{Title: "Dir", Width: 5},
			{Title: "Entry", Width: 12},
			{Title: "Exit", Width: 12},
			{Title: "P&L %", Width: 8},
			{Title: "Status", Width: 8},
			{Title: "Opened", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	conditions := table.New(
		table.WithColumns([]table.Column{
			{Title: "Name", Width: 24},
			{Title: "Config", Width: 28},
			{Title: "Type", Width: 10},
			{Title: "State", Width: 8},
			{Title: "Today", Width: 6},
			{Title: "Total", Width: 6},
			{Title: "Next check", Width: 16},
		}),
		table.WithHeight(14),
	)

	return &AppModel{
		svc:        svc,
		loading:    true,
		spin:       sp,
		trades:     trades,
		conditions: conditions,
	}
}

func (m *AppModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	if height > 10 {
		m.trades.SetHeight(height - 9)
		m.conditions.SetHeight(height - 9)
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetch())
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "right", "l":
			m.tab = (m.tab + 1) % tabCount
			return m, nil
		case "shift+tab", "left", "h":
			m.tab = (m.tab + tabCount - 1) % tabCount
			return m, nil
		case "r":
			m.loading = true
			return m, m.fetch()
		}

	case tickMsg:
		return m, m.fetch()

	case dataMsg:
		m.loading = false
		m.err = nil
		m.fetchedAt = time.Now()
		m.trades.SetRows(tradeRows(msg.trades))
		m.conditions.SetRows(conditionRows(msg.conditions))
		m.stats = msg.stats
		return m, m.tickAfter()

	case errMsg:
		m.loading = false
		m.err = msg.err
		return m, m.tickAfter()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.tab {
	case tabTrades:
		m.trades, cmd = m.trades.Update(msg)
	case tabConditions:
		m.conditions, cmd = m.conditions.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) View() string {
	var b strings.Builder

	title := "tradewire"
	if m.svc.Username != "" {
		title += " - " + m.svc.Username
	}
	b.WriteString(titleStyle.Render(title))
	if m.loading {
		b.WriteString("  " + m.spin.View())
	} else if !m.fetchedAt.IsZero() {
		b.WriteString(helpStyle.Render("  updated " + m.fetchedAt.Format("15:04:05")))
	}
	b.WriteString("\n\n")

	b.WriteString(m.tabBar())
	b.WriteString("\n\n")

	switch m.tab {
	case tabTrades:
		b.WriteString(m.trades.View())
	case tabQueue:
		b.WriteString(m.statsView())
	case tabConditions:
		b.WriteString(m.conditions.View())
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("tab: switch - r: refresh - q: quit"))

	return frameStyle.Render(b.String())
}

func (m *AppModel) tabBar() string {
	names := []string{"Trades", "Queue", "Conditions"}
	parts := make([]string, len(names))
	for i, name := range names {
		if i == m.tab {
			parts[i] = activeTab.Render(name)
		} else {
			parts[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *AppModel) statsView() string {
	if m.stats == nil {
		return helpStyle.Render("no delivery stats yet")
	}
	line := func(label, value string) string {
		return statLabel.Render(label) + statValue.Render(value) + "\n"
	}
	var b strings.Builder
	b.WriteString(line("Window", (time.Duration(m.stats.WindowSecs) * time.Second).String()))
	b.WriteString(line("Pending", strconv.Itoa(m.stats.Pending)))
	b.WriteString(line("Sending", strconv.Itoa(m.stats.Sending)))
	b.WriteString(line("Sent", strconv.Itoa(m.stats.Sent)))
	b.WriteString(line("Failed", strconv.Itoa(m.stats.Failed)))
	oldest := "-"
	if m.stats.OldestPending != nil {
		oldest = time.Since(*m.stats.OldestPending).Round(time.Second).String()
	}
	b.WriteString(line("Oldest pending", oldest))
	return b.String()
}

func (m *AppModel) fetch() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		var data dataMsg
		if svc.Trades != nil {
			trades, err := svc.Trades.RecentTrades(ctx, tradeLimit)
			if err != nil {
				return errMsg{err}
			}
			data.trades = trades
		}
		if svc.Delivery != nil {
			stats, err := svc.Delivery.GetStats(ctx, time.Hour)
			if err != nil {
				return errMsg{err}
			}
			data.stats = stats
		}
		if svc.Conditions != nil {
			conditions, err := svc.Conditions.List(ctx)
			if err != nil {
				return errMsg{err}
			}
			data.conditions = conditions
		}
		return data
	}
}

func (m *AppModel) tickAfter() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func tradeRows(trades []*domain.Trade) []table.Row {
	rows := make([]table.Row, 0, len(trades))
	for _, t := range trades {
		exit := "-"
		if t.ExitPrice != nil {
			exit = formatPrice(*t.ExitPrice)
		}
		pnl := "-"
		if t.PnLPercent != nil {
			pnl = fmt.Sprintf("%+.2f", *t.PnLPercent)
			if *t.PnLPercent >= 0 {
				pnl = gainStyle.Render(pnl)
			} else {
				pnl = lossStyle.Render(pnl)
			}
		}
		rows = append(rows, table.Row{
			t.Config.Key(),
			strconv.Itoa(t.TradeNumber),
			string(t.Direction),
			formatPrice(t.EntryPrice),
			exit,
			pnl,
			string(t.Status),
			t.OpenedAt.Local().Format("01-02 15:04"),
		})
	}
	return rows
}

func conditionRows(conditions []*domain.AlertCondition) []table.Row {
	rows := make([]table.Row, 0, len(conditions))
	for _, c := range conditions {
		state := "active"
		switch {
		case !c.Active:
			state = "off"
		case c.Paused:
			state = "paused"
		}
		rows = append(rows, table.Row{
			c.Name,
			c.Config.Key(),
			string(c.Type),
			state,
			strconv.Itoa(c.TriggersToday),
			strconv.Itoa(c.TotalTriggers),
			c.NextCheckAt.Local().Format("01-02 15:04"),
		})
	}
	return rows
}

func formatPrice(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.2f", v)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
