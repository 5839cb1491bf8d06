package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	cl "dreamteam/internal/cli"
	"dreamteam/internal/market"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).MarginBottom(1)
	boxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type offersMsg struct {
	offers []market.Offer
	err    error
}

type boughtMsg struct {
	result market.Result
	err    error
}

type browseModel struct {
	ctx    context.Context
	client *cl.Client
	sess   cl.Session
	table  table.Model
	offers []market.Offer
	status string
	failed bool
	busy   bool
}

func runBrowser(ctx context.Context, client *cl.Client, sess cl.Session) error {
	m := newBrowseModel(ctx, client, sess)
	_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}

func newBrowseModel(ctx context.Context, client *cl.Client, sess cl.Session) browseModel {
	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Name", Width: 24},
		{Title: "Position", Width: 11},
		{Title: "Age", Width: 4},
		{Title: "Team", Width: 20},
		{Title: "Value", Width: 14},
		{Title: "Price", Width: 14},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return browseModel{ctx: ctx, client: client, sess: sess, table: t, status: "Loading transfer list..."}
}

func (m browseModel) Init() tea.Cmd {
	return m.fetch()
}

func (m browseModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		offers, err := m.client.Offers(ctx, m.sess.AccessToken)
		return offersMsg{offers: offers, err: err}
	}
}

func (m browseModel) buy(playerID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 15*time.Second)
		defer cancel()
		out, err := m.client.Purchase(ctx, m.sess.AccessToken, playerID, uuid.NewString())
		return boughtMsg{result: out, err: err}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status, m.failed = "Refreshing...", false
			return m, m.fetch()
		case "enter":
			idx := m.table.Cursor()
			if m.busy || idx < 0 || idx >= len(m.offers) {
				return m, nil
			}
			o := m.offers[idx]
			m.busy = true
			m.status, m.failed = fmt.Sprintf("Buying %s for %s...", o.Player.FullName(), money(o.Player.SellingPrice)), false
			return m, m.buy(o.Player.ID)
		}
	case offersMsg:
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
			return m, nil
		}
		m.offers = msg.offers
		m.table.SetRows(offerRows(msg.offers))
		if m.table.Cursor() >= len(msg.offers) {
			m.table.SetCursor(max(len(msg.offers)-1, 0))
		}
		if !m.busy && !m.failed {
			m.status = fmt.Sprintf("%d players on sale.", len(msg.offers))
		}
		return m, nil
	case boughtMsg:
		m.busy = false
		if msg.err != nil {
			m.status, m.failed = msg.err.Error(), true
		} else {
			m.status, m.failed = fmt.Sprintf("%s Cash left: %s", msg.result.Message, money(msg.result.Team.CashAvailable)), false
		}
		return m, m.fetch()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m browseModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Transfer list"))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.table.View()))
	b.WriteString("\n")
	if m.failed {
		b.WriteString(errStyle.Render(m.status))
	} else {
		b.WriteString(okStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter buy • r refresh • q quit"))
	b.WriteString("\n")
	return b.String()
}

func offerRows(offers []market.Offer) []table.Row {
	rows := make([]table.Row, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, table.Row{
			strconv.FormatInt(o.Player.ID, 10),
			truncate(o.Player.FullName(), 24),
			string(o.Player.Position),
			strconv.Itoa(o.Player.Age),
			truncate(o.Team.Name, 20),
			money(o.Player.MarketValue),
			money(o.Player.SellingPrice),
		})
	}
	return rows
}
