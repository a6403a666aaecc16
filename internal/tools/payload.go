package tools

import (
	"encoding/json"
	"fmt"

	"chequebot/internal/core"
)

// JSON shapes handed back to the model. Prices are decimal strings so the
// model never does cent arithmetic.

type recordJSON struct {
	ID           int64  `json:"id"`
	ReceiptID    string `json:"receipt_id,omitempty"`
	Organization string `json:"organization,omitempty"`
	Product      string `json:"product"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	Date         string `json:"date"`
}

type groupJSON struct {
	Key      string `json:"key"`
	Count    int64  `json:"count"`
	Receipts int64  `json:"receipts"`
	Total    string `json:"total"`
}

func toRecordJSON(rec core.PurchaseRecord) recordJSON {
	return recordJSON{
		ID:           rec.ID,
		ReceiptID:    rec.ReceiptID,
		Organization: rec.Organization,
		Product:      rec.Product,
		Description:  rec.Description,
		Category:     rec.Category,
		Price:        rec.Price.String(),
		Quantity:     rec.Quantity,
		Date:         rec.PurchaseDate.String(),
	}
}

func recordsPayload(records []core.PurchaseRecord) map[string]any {
	out := make([]recordJSON, 0, len(records))
	var total int64
	for _, rec := range records {
		out = append(out, toRecordJSON(rec))
		total += rec.Price.Cents
	}
	return map[string]any{
		"records": out,
		"count":   len(out),
		"total":   core.Money{Cents: total}.String(),
	}
}

func groupsPayload(groups []core.Group) map[string]any {
	out := make([]groupJSON, 0, len(groups))
	var total int64
	for _, g := range groups {
		out = append(out, groupJSON{
			Key:      g.Key,
			Count:    g.Count,
			Receipts: g.ReceiptCount,
			Total:    g.Total.String(),
		})
		total += g.Total.Cents
	}
	return map[string]any{
		"groups": out,
		"total":  core.Money{Cents: total}.String(),
	}
}

func summaryPayload(s core.Summary) map[string]any {
	return map[string]any{
		"count":    s.Count,
		"receipts": s.ReceiptCount,
		"total":    s.Total.String(),
	}
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}

func result(payload map[string]any, text string) (Result, error) {
	out, err := marshal(payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: out, Text: text}, nil
}
