package calculator

import (
	"github.com/shopspring/decimal"
)

// Item represents a single item on the bill
type Item struct {
	Description string
	Amount      decimal.Decimal
	AssignedTo  []string
}

// Totals are the bill-level derived amounts.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Tip        decimal.Decimal
	GrandTotal decimal.Decimal
}

// PersonItem represents an item's share for one person.
type PersonItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // This person's share of the item
}

// PersonSplit represents the calculated split for one person
type PersonSplit struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Tip      decimal.Decimal `json:"tip"`
	Total    decimal.Decimal `json:"total"`
	Items    []PersonItem    `json:"items"`
}

// CalculateTotals computes subtotal, tax, tip and grand total.
// grand_total = subtotal × (1 + tax_rate + tip_rate)
func CalculateTotals(items []Item, taxRate, tipRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount)
	}
	tax := subtotal.Mul(taxRate)
	tip := subtotal.Mul(tipRate)
	return Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Tip:        tip,
		GrandTotal: subtotal.Add(tax).Add(tip),
	}
}

// CalculateShares computes each person's pre-tax share of the items.
// Items are split evenly among the people assigned to them. Unassigned items
// are charged to fallback when it is non-empty and dropped otherwise.
func CalculateShares(items []Item, fallback string) map[string]decimal.Decimal {
	shares := make(map[string]decimal.Decimal)
	for _, item := range items {
		for person, amount := range itemShares(item, fallback) {
			shares[person] = shares[person].Add(amount)
		}
	}
	return shares
}

// CalculateSplit computes how much each person owes including tax and tip.
// Based on the algorithm: person_total = person_subtotal × (1 + tax_rate + tip_rate)
func CalculateSplit(items []Item, fallback string, taxRate, tipRate decimal.Decimal) map[string]*PersonSplit {
	splits := make(map[string]*PersonSplit)

	for _, item := range items {
		for person, amount := range itemShares(item, fallback) {
			split, exists := splits[person]
			if !exists {
				split = &PersonSplit{}
				splits[person] = split
			}
			split.Subtotal = split.Subtotal.Add(amount)
			split.Items = append(split.Items, PersonItem{Description: item.Description, Amount: amount})
		}
	}

	// Apply tax and tip at the bill's rates
	for _, split := range splits {
		split.Tax = split.Subtotal.Mul(taxRate)
		split.Tip = split.Subtotal.Mul(tipRate)
		split.Total = split.Subtotal.Add(split.Tax).Add(split.Tip)
	}

	return splits
}

// itemShares splits one item among its assignees.
func itemShares(item Item, fallback string) map[string]decimal.Decimal {
	if len(item.AssignedTo) == 0 {
		if fallback == "" {
			return nil
		}
		return map[string]decimal.Decimal{fallback: item.Amount}
	}

	perPerson := item.Amount.Div(decimal.NewFromInt(int64(len(item.AssignedTo))))
	shares := make(map[string]decimal.Decimal, len(item.AssignedTo))
	for _, person := range item.AssignedTo {
		shares[person] = shares[person].Add(perPerson)
	}
	return shares
}
