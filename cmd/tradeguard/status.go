package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/core"
)

// renderStatus prints the account and every symbol as two tables
func renderStatus(st core.Status) string {
	acct := st.Account

	at := table.NewWriter()
	at.SetTitle("ACCOUNT")
	at.SetStyle(table.StyleRounded)
	at.AppendRows([]table.Row{
		{"Status", string(acct.Status)},
		{"Balance", acct.CurrentBalance.StringFixed(2)},
		{"Peak", acct.PeakBalance.StringFixed(2)},
		{"Daily P&L", acct.DailyPnL().StringFixed(2)},
		{"Drawdown", acct.Drawdown().Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"},
		{"Breaches", st.Breaches},
	})
	if acct.Reason != "" {
		at.AppendRow(table.Row{"Reason", acct.Reason})
	}
	if st.LastError != "" {
		at.AppendRow(table.Row{"Last error", st.LastError})
	}
	at.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 12, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})

	st2 := table.NewWriter()
	st2.SetTitle("SYMBOLS")
	st2.SetStyle(table.StyleRounded)
	st2.AppendHeader(table.Row{"Symbol", "Restriction", "Trade", "Pos", "Ord", "Trk", "Susp", "Queue", "Last cycle", "Blocked by"})
	for _, s := range st.Symbols {
		trade := "yes"
		if !s.CanTrade {
			trade = "no"
		}
		last := "-"
		if !s.LastCycle.IsZero() {
			last = s.LastCycle.Format(time.TimeOnly)
		}
		st2.AppendRow(table.Row{
			s.Symbol, string(s.Restriction), trade,
			s.Positions, s.Orders, s.Trackers, s.Suspended, s.Queued,
			last, strings.Join(s.Reasons, "; "),
		})
	}

	return fmt.Sprintf("%s\n%s", at.Render(), st2.Render())
}
