package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/calculator"
	"github.com/mmynk/splitchat/internal/command"
	"github.com/mmynk/splitchat/internal/history"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/internal/session"
)

// Bill is the full state of a live bill as sent to clients.
type Bill struct {
	SessionID     string                     `json:"sessionId"`
	Items         []models.Item              `json:"items"`
	Users         []models.User              `json:"users"`
	PrimaryUserID string                     `json:"primaryUserId"`
	Metadata      models.BillMetadata        `json:"metadata"`
	Conversation  []models.ConversationEntry `json:"chatHistory"`
	TaxRate       decimal.Decimal            `json:"taxRate"`
	TipRate       decimal.Decimal            `json:"tipRate"`
	Currency      string                     `json:"currency"`
	Subtotal      decimal.Decimal            `json:"subtotal"`
	TaxAmount     decimal.Decimal            `json:"taxAmount"`
	TipAmount     decimal.Decimal            `json:"tipAmount"`
	GrandTotal    decimal.Decimal            `json:"grandTotal"`

	// Shares maps user IDs to their pre-tax share of assigned items.
	Shares map[string]decimal.Decimal `json:"shares"`

	// Breakdown itemizes what each user owes with tax and tip, charging
	// unassigned items to the primary user.
	Breakdown map[string]*calculator.PersonSplit `json:"breakdown"`
	Scanning  bool                               `json:"scanning"`
}

func billFromState(s session.State) *Bill {
	return &Bill{
		SessionID:     s.SessionID,
		Items:         s.Items,
		Users:         s.Users,
		PrimaryUserID: s.PrimaryID,
		Metadata:      s.Metadata,
		Conversation:  s.Conversation,
		TaxRate:       s.TaxRate,
		TipRate:       s.TipRate,
		Currency:      s.Currency,
		Subtotal:      s.Totals.Subtotal,
		TaxAmount:     s.Totals.Tax,
		TipAmount:     s.Totals.Tip,
		GrandTotal:    s.Totals.GrandTotal,
		Shares:        s.Shares,
		Breakdown:     s.Breakdown,
		Scanning:      s.Scanning,
	}
}

// BillResponse is returned by every call that only changes the bill.
type BillResponse struct {
	Bill *Bill `json:"bill"`
}

type StartSessionRequest struct{}

type StartSessionResponse struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Bill      *Bill     `json:"bill"`
}

type GetBillRequest struct{}

// AddItemRequest adds a line item by hand. Price is free text; anything
// that is not a non-negative number becomes 0.
type AddItemRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type AddItemResponse struct {
	Item models.Item `json:"item"`
	Bill *Bill       `json:"bill"`
}

type UpdateItemRequest struct {
	ItemID string  `json:"itemId"`
	Name   *string `json:"name,omitempty"`
	Price  *string `json:"price,omitempty"`
}

type RemoveItemRequest struct {
	ItemID string `json:"itemId"`
}

type SetAssignmentRequest struct {
	ItemID  string   `json:"itemId"`
	UserIDs []string `json:"userIds"`
}

type ToggleAssignmentRequest struct {
	ItemID string `json:"itemId"`
	UserID string `json:"userId"`
}

type AddUserRequest struct {
	Name string `json:"name"`
}

type AddUserResponse struct {
	User models.User `json:"user"`
	Bill *Bill       `json:"bill"`
}

type RemoveUserRequest struct {
	UserID string `json:"userId"`
}

type UpdateUserRequest struct {
	UserID string  `json:"userId"`
	Name   *string `json:"name,omitempty"`
	Color  *string `json:"color,omitempty"`
}

type SetRatesRequest struct {
	TaxRate *decimal.Decimal `json:"taxRate,omitempty"`
	TipRate *decimal.Decimal `json:"tipRate,omitempty"`

	// Currency is the symbol the summary prints amounts with.
	Currency *string `json:"currency,omitempty"`
}

type UpdateMetadataRequest struct {
	MerchantName  *string            `json:"merchantName,omitempty"`
	Date          *string            `json:"date,omitempty"`
	ReceiptNumber *string            `json:"receiptNumber,omitempty"`
	Status        *models.BillStatus `json:"status,omitempty"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type SendMessageResponse struct {
	Reply     models.ConversationEntry `json:"reply"`
	Pairings  []command.Pairing        `json:"pairings"`
	Discarded bool                     `json:"discarded"`
	Bill      *Bill                    `json:"bill"`
}

// ScanReceiptRequest carries the receipt image, base64-encoded in JSON.
type ScanReceiptRequest struct {
	Image    []byte `json:"image"`
	MIMEType string `json:"mimeType"`
}

type ScanReceiptResponse struct {
	Entry models.ConversationEntry `json:"entry"`
	Bill  *Bill                    `json:"bill"`
}

type GetSummaryRequest struct{}

type GetSummaryResponse struct {
	Text string `json:"text"`
}

type SaveBillRequest struct{}

type SaveBillResponse struct {
	SnapshotID string          `json:"snapshotId"`
	History    []history.Entry `json:"history"`
	Bill       *Bill           `json:"bill"`
}

type LoadBillRequest struct {
	SnapshotID string `json:"snapshotId"`
}

type DeleteBillRequest struct {
	SnapshotID string `json:"snapshotId"`
}

type ListHistoryRequest struct{}

type ListHistoryResponse struct {
	History []history.Entry `json:"history"`
}

type ResetBillRequest struct{}
