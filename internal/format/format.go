// Package format renders records, aggregates and ingestion reports as the
// plain text the bot sends back to users.
package format

import (
	"fmt"
	"strings"

	"chequebot/internal/core"
)

// IngestReport is the reply after a receipt photo has been processed.
type IngestReport struct {
	ReceiptID    string
	Organization string
	Date         core.Date
	Inserted     int
	Duplicates   int
	Total        core.Money
}

func (r IngestReport) String() string {
	var b strings.Builder
	b.WriteString("Receipt saved")
	if r.Organization != "" {
		fmt.Fprintf(&b, ": %s", r.Organization)
	}
	if !r.Date.IsZero() {
		fmt.Fprintf(&b, " (%s)", r.Date)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d item(s) recorded, total %s", r.Inserted, r.Total)
	if r.Duplicates > 0 {
		fmt.Fprintf(&b, "\n%d item(s) skipped as already recorded", r.Duplicates)
	}
	fmt.Fprintf(&b, "\nReceipt id: %s", r.ReceiptID)
	return b.String()
}

// Records renders purchase records as one line per item.
func Records(records []core.PurchaseRecord) string {
	if len(records) == 0 {
		return "No purchases found."
	}
	var b strings.Builder
	var total int64
	for _, rec := range records {
		fmt.Fprintf(&b, "#%d %s  %s", rec.ID, rec.PurchaseDate, rec.Product)
		if rec.Quantity > 1 {
			fmt.Fprintf(&b, " x%d", rec.Quantity)
		}
		fmt.Fprintf(&b, "  %s", rec.Price)
		if rec.Organization != "" {
			fmt.Fprintf(&b, "  (%s)", rec.Organization)
		}
		b.WriteString("\n")
		total += rec.Price.Cents
	}
	fmt.Fprintf(&b, "Total: %s over %d item(s)", core.Money{Cents: total}, len(records))
	return b.String()
}

// Groups renders aggregation buckets largest first, as the store returns
// them.
func Groups(groups []core.Group) string {
	if len(groups) == 0 {
		return "Nothing to aggregate."
	}
	var b strings.Builder
	var total int64
	for _, g := range groups {
		key := g.Key
		if key == "" {
			key = "(none)"
		}
		fmt.Fprintf(&b, "%s: %s (%d item(s))\n", key, g.Total, g.Count)
		total += g.Total.Cents
	}
	fmt.Fprintf(&b, "Total: %s", core.Money{Cents: total})
	return b.String()
}

// Summary renders the flat aggregate.
func Summary(s core.Summary) string {
	return fmt.Sprintf("%s across %d item(s) on %d receipt(s)", s.Total, s.Count, s.ReceiptCount)
}

// Help is the /help reply.
func Help() string {
	return strings.TrimSpace(`
Send a photo of a receipt and I will record every line item.
Then ask me about your spending in plain language, for example:
  - how much did I spend this month?
  - what did I buy at SuperMart last week?
  - group my spending by category
  - change the price of record 12 to 4.50
  - export January to a spreadsheet

Commands:
  /start  - this introduction
  /help   - this message
  /clear  - forget our conversation so far
`)
}
