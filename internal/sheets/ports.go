// Package sheets defines the spreadsheet ports used for exports, charts and
// the mirror sync, with a Google Sheets adapter and an in-memory fake.
package sheets

import (
	"context"

	"chequebot/internal/core"
)

// Exporter creates user-facing spreadsheets on demand. Both methods return
// a URL the user can open.
type Exporter interface {
	// ExportRecords writes the records to a new sheet, one row per record.
	ExportRecords(ctx context.Context, title string, records []core.PurchaseRecord) (string, error)

	// ExportGroups writes aggregation buckets to a new sheet. When chart is
	// set, a bar chart over the buckets is embedded next to the table.
	ExportGroups(ctx context.Context, title string, groups []core.Group, chart bool) (string, error)
}

// Mirror appends persisted records to the long-lived mirror spreadsheet.
// Used by the sync worker, never by the interactive path.
type Mirror interface {
	AppendRecords(ctx context.Context, records []core.PurchaseRecord) error
}
