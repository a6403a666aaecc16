package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ReceiptSyncMessage asks the worker to mirror a receipt's records to the
// long-lived spreadsheet. Payloads stay small; the worker re-reads the
// records from the store.
type ReceiptSyncMessage struct {
	UserID    string    `json:"user_id"`
	ReceiptID string    `json:"receipt_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m ReceiptSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReceiptSyncFromJSON(data []byte) (ReceiptSyncMessage, error) {
	var m ReceiptSyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ReceiptSyncMessage{}, fmt.Errorf("decode receipt sync message: %w", err)
	}
	if m.UserID == "" {
		return ReceiptSyncMessage{}, errors.New("receipt sync message: empty user_id")
	}
	if m.ReceiptID == "" {
		return ReceiptSyncMessage{}, errors.New("receipt sync message: empty receipt_id")
	}
	return m, nil
}
