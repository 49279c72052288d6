package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SummaryText renders the shareable bill summary: merchant, grand total and
// every user who owes something, in user order. Unassigned items are charged
// to the primary user.
func (l *Ledger) SummaryText() string {
	var b strings.Builder

	b.WriteString("🧾 " + l.metadata.MerchantName + "\n")
	b.WriteString("Total: " + l.currency + l.GrandTotal().StringFixed(2) + "\n\n")

	multiplier := decimal.NewFromInt(1).Add(l.taxRate).Add(l.tipRate)
	shares := l.SummaryShares()
	for _, u := range l.users {
		share := shares[u.ID]
		if share.IsZero() {
			continue
		}
		b.WriteString("👤 " + u.Name + ": " + l.currency + share.Mul(multiplier).StringFixed(2) + "\n")
	}

	b.WriteString("\nGenerated by SPLIT 🚀")
	return b.String()
}
