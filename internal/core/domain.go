package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// PurchaseRecord is a single purchased line item extracted from a
	// receipt (or added manually). Every record belongs to exactly one
	// user; all reads and updates are scoped by UserID.
	PurchaseRecord struct {
		ID           int64
		UserID       string
		ReceiptID    string // receipt artifact that produced this record
		Organization string
		Product      string
		Description  string
		Category     string
		Price        Money
		Quantity     int64
		PurchaseDate Date
		CreatedAt    time.Time
	}

	// Receipt is the raw artifact stored on ingestion. Immutable after
	// creation; the core never deletes it.
	Receipt struct {
		ID         string
		UserID     string
		FilePath   string
		MessageRef string
		CreatedAt  time.Time
	}

	// LineItem is one entry returned by the extraction collaborator,
	// before normalization and persistence.
	LineItem struct {
		Organization string
		Product      string
		Description  string
		Price        Money
		Quantity     int64
		Date         Date
		Category     string
	}
)

var (
	ErrEmptyUser     = errors.New("empty user id")
	ErrEmptyProduct  = errors.New("empty product name")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidQty    = errors.New("quantity must be positive")
)

func (r PurchaseRecord) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(r.Product) == "" {
		return ErrEmptyProduct
	}
	if len(r.Product) > 200 {
		return errors.New("product name too long (max 200 characters)")
	}
	if r.Price.Cents < 0 {
		return ErrInvalidAmount
	}
	if r.Quantity <= 0 {
		return ErrInvalidQty
	}
	return r.PurchaseDate.Validate()
}

// RecordFromLineItem builds a PurchaseRecord for the given user out of an
// extracted line item. Quantity defaults to 1 when the extractor omitted it,
// the purchase date defaults to today when missing.
func RecordFromLineItem(userID, receiptID string, li LineItem) PurchaseRecord {
	qty := li.Quantity
	if qty <= 0 {
		qty = 1
	}
	date := li.Date
	if date.IsZero() {
		date = Today()
	}
	return PurchaseRecord{
		UserID:       userID,
		ReceiptID:    receiptID,
		Organization: li.Organization,
		Product:      li.Product,
		Description:  li.Description,
		Category:     li.Category,
		Price:        li.Price,
		Quantity:     qty,
		PurchaseDate: date,
	}
}
