package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"dreamteam/internal/game"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if len(raw) > 0 {
			return string(raw), nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderHome(view game.HomeView) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(view.User.Username))
	if view.Team == nil {
		printWarn("You have no team yet. Run `dt team create`.")
		if len(view.Countries) > 0 {
			printInfo("Countries: " + strings.Join(view.Countries, ", "))
		}
		return
	}
	t := view.Team
	fmt.Printf("Team:       %s (%s)\n", t.Name, t.Country)
	fmt.Printf("Cash:       %s\n", success.Sprint(money(t.CashAvailable)))
	fmt.Printf("Team value: %s\n\n", money(view.TeamValue))
	fmt.Printf("%-6s %-24s %-11s %4s %-14s %14s %s\n", "ID", "NAME", "POSITION", "AGE", "COUNTRY", "VALUE", "ON SALE")
	for _, p := range view.Players {
		sale := ""
		if p.IsOnSale {
			sale = warn.Sprint(money(p.SellingPrice))
		}
		fmt.Printf("%-6d %-24s %-11s %4d %-14s %14s %s\n",
			p.ID,
			truncate(p.FullName(), 24),
			p.Position,
			p.Age,
			truncate(p.Country, 14),
			money(p.MarketValue),
			sale,
		)
	}
	fmt.Println()
}

func renderOffers(offers []market.Offer) {
	accent.Println("\n== TRANSFER LIST ==")
	if len(offers) == 0 {
		printInfo("No players on sale.")
		return
	}
	fmt.Printf("%-6s %-24s %-11s %4s %-20s %14s %14s\n", "ID", "NAME", "POSITION", "AGE", "TEAM", "VALUE", "PRICE")
	for _, o := range offers {
		fmt.Printf("%-6d %-24s %-11s %4d %-20s %14s %14s\n",
			o.Player.ID,
			truncate(o.Player.FullName(), 24),
			o.Player.Position,
			o.Player.Age,
			truncate(o.Team.Name, 20),
			money(o.Player.MarketValue),
			money(o.Player.SellingPrice),
		)
	}
	fmt.Println()
}

func renderPurchase(r market.Result) {
	printSuccess(r.Message)
	fmt.Printf("New market value: %s\n", money(r.Player.MarketValue))
	fmt.Printf("Cash left:        %s\n", money(r.Team.CashAvailable))
}

func renderUser(u ledger.User) {
	accent.Printf("\n== %s ==\n", u.Username)
	fmt.Printf("ID:      %d\n", u.ID)
	fmt.Printf("Email:   %s\n", u.Email)
	fmt.Printf("Joined:  %s\n\n", u.SignupDate.Format("2006-01-02"))
}

func money(v int64) string {
	if v < 0 {
		return "-$" + comma(-v)
	}
	return "$" + comma(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
