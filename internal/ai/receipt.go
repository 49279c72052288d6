package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/models"
)

const receiptPrompt = `Analyze this receipt image and extract:
1. The list of purchased items.
2. The merchant/store name.
3. The date of the receipt (format: MMM DD, YYYY).
4. The receipt number (if visible).

Return ONLY a valid JSON object with the following structure:
{
  "items": [
    { "name": "Item Name", "price": 10.50 }
  ],
  "metadata": {
    "merchantName": "Store Name",
    "date": "MMM DD, YYYY",
    "receiptNumber": "12345"
  }
}
Do not wrap the JSON in markdown code fences. Ensure every price is a number.`

// Receipt is what a scan extracted. Items have no IDs or assignments yet.
type Receipt struct {
	Items    []models.Item
	Metadata models.BillMetadata
}

type receiptPayload struct {
	Items []struct {
		Name  string          `json:"name"`
		Price json.RawMessage `json:"price"`
	} `json:"items"`
	Metadata struct {
		MerchantName  string `json:"merchantName"`
		Date          string `json:"date"`
		ReceiptNumber string `json:"receiptNumber"`
	} `json:"metadata"`
}

// ExtractReceipt reads the line items and metadata off a receipt image.
func (c *Client) ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*Receipt, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	text, err := c.generate(ctx, "extract_receipt", Request{
		Prompt:   receiptPrompt,
		Image:    image,
		MIMEType: mimeType,
	})
	if err != nil {
		return nil, err
	}

	receipt, err := parseReceipt(text)
	if err != nil {
		c.logger.Error("failed to parse receipt response", "error", err, "response", truncate(text, 500))
		return nil, err
	}
	c.logger.Info("receipt extracted", "items", len(receipt.Items), "merchant", receipt.Metadata.MerchantName)
	return receipt, nil
}

func parseReceipt(text string) (*Receipt, error) {
	var payload receiptPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	receipt := &Receipt{
		Items: make([]models.Item, 0, len(payload.Items)),
		Metadata: models.BillMetadata{
			MerchantName:  strings.TrimSpace(payload.Metadata.MerchantName),
			Date:          strings.TrimSpace(payload.Metadata.Date),
			ReceiptNumber: strings.TrimSpace(payload.Metadata.ReceiptNumber),
		},
	}
	for _, it := range payload.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		receipt.Items = append(receipt.Items, models.Item{
			Name:       name,
			Price:      priceOf(it.Price),
			AssignedTo: []string{},
		})
	}
	return receipt, nil
}

// priceOf reads a price the model may have sent as a number or a string.
// Anything unreadable is zero so one bad line does not lose the receipt.
func priceOf(raw json.RawMessage) decimal.Decimal {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return models.ParseAmount(s)
}

// cleanJSON strips markdown code fences and any chatter around the outermost
// JSON object.
func cleanJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	if json.Valid([]byte(text)) {
		return text
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
