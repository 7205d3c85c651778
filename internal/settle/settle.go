// Package settle works out how much each person owes for a bill.
package settle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitbill/internal/bill"
)

// divisionPrecision is the number of decimal places kept when an item total
// is divided between people.
const divisionPrecision = 16

// Share is one person's amount owed.
type Share struct {
	Person bill.Person     `json:"person"`
	Amount decimal.Decimal `json:"amount"`
}

// Settle splits every assigned item evenly between the people sharing it and
// returns the amount owed by each person. Everyone in people is present in the
// result, with zero if they share nothing. Items nobody shares are left out.
func Settle(items []bill.Item, assignments map[int][]int, people []bill.Person) map[int]decimal.Decimal {
	owed := make(map[int]decimal.Decimal, len(people))
	for _, p := range people {
		owed[p.ID] = decimal.Zero
	}

	for _, item := range items {
		total := item.Total()
		if !total.IsPositive() {
			continue
		}
		sharers := assignees(assignments[item.ID], owed)
		if len(sharers) == 0 {
			continue
		}
		share := ItemShare(total, len(sharers))
		for _, id := range sharers {
			owed[id] = owed[id].Add(share)
		}
	}
	return owed
}

// ItemShare is what each of n people pays for an item totalling total.
func ItemShare(total decimal.Decimal, n int) decimal.Decimal {
	if n < 1 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(n)), divisionPrecision)
}

// assignees keeps the ids that belong to people on the bill, once each.
func assignees(ids []int, owed map[int]decimal.Decimal) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := owed[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Order lists people by amount owed, highest first. Equal amounts keep the
// order people were added in.
func Order(people []bill.Person, owed map[int]decimal.Decimal) []Share {
	shares := make([]Share, 0, len(people))
	for _, p := range people {
		amount, ok := owed[p.ID]
		if !ok {
			amount = decimal.Zero
		}
		shares = append(shares, Share{Person: p, Amount: amount})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Amount.GreaterThan(shares[j].Amount)
	})
	return shares
}

// Summarize settles the bill held in state and orders the result.
func Summarize(state bill.State) []Share {
	return Order(state.People, Settle(state.Items, state.Assignments, state.People))
}

// ExportOptions controls the clipboard text.
type ExportOptions struct {
	Currency  string
	ZeroLabel string
}

// DefaultExportOptions matches the Bulgarian interface.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{Currency: "€", ZeroLabel: "Не дължи"}
}

// Format renders an amount rounded to two decimals, or the zero label.
func (o ExportOptions) Format(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	if rounded.IsZero() && o.ZeroLabel != "" {
		return o.ZeroLabel
	}
	if o.Currency == "" {
		return rounded.StringFixed(2)
	}
	return fmt.Sprintf("%s %s", rounded.StringFixed(2), o.Currency)
}

// Export renders one "Name: amount" line per share, in the given order.
func Export(shares []Share, opts ExportOptions) string {
	var b strings.Builder
	for i, s := range shares {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", s.Person.Name, opts.Format(s.Amount))
	}
	return b.String()
}
