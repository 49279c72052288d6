package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Item represents a single line item on a bill.
// Items can be shared among multiple users.
type Item struct {
	// ID is the unique identifier for the item within the bill.
	ID string `json:"id"`

	// Name is the description printed on the receipt (e.g., "Club Soda").
	Name string `json:"name"`

	// Price is the pre-tax price of this item. Never negative.
	Price decimal.Decimal `json:"price"`

	// AssignedTo lists the IDs of the users who split this item.
	// It behaves as a set: no duplicates, order is insertion order.
	// An empty list means the item is unassigned.
	AssignedTo []string `json:"assignedTo"`
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	c := i
	c.AssignedTo = append([]string{}, i.AssignedTo...)
	return c
}

// IsAssignedTo reports whether userID is in the item's assignment set.
func (i Item) IsAssignedTo(userID string) bool {
	for _, id := range i.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// BillStatus is the lifecycle state of a bill.
type BillStatus string

const (
	BillStatusPending   BillStatus = "PENDING"
	BillStatusCompleted BillStatus = "COMPLETED"
)

// BillMetadata describes where and when the bill was issued.
type BillMetadata struct {
	MerchantName  string     `json:"merchantName"`
	Date          string     `json:"date"`
	ReceiptNumber string     `json:"receiptNumber,omitempty"`
	Status        BillStatus `json:"status"`
}

// ParseAmount converts user input into a price.
// Anything that is not a number, and any negative number, becomes zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£¥")
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NonNegative clamps d to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
