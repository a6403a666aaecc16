package format

import (
	"strings"
	"testing"

	"chequebot/internal/core"
)

func TestIngestReport(t *testing.T) {
	r := IngestReport{
		ReceiptID:    "rcpt-1",
		Organization: "SuperMart",
		Date:         core.NewDate(2026, 3, 15),
		Inserted:     3,
		Duplicates:   1,
		Total:        core.Money{Cents: 1234},
	}
	got := r.String()
	for _, want := range []string{"SuperMart", "2026-03-15", "3 item(s) recorded", "total 12.34", "1 item(s) skipped", "rcpt-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}

	// No duplicates: the skipped line is omitted entirely.
	r.Duplicates = 0
	if strings.Contains(r.String(), "skipped") {
		t.Error("report should not mention skipping when nothing was skipped")
	}
}

func TestRecords(t *testing.T) {
	if got := Records(nil); got != "No purchases found." {
		t.Errorf("empty list: %q", got)
	}

	records := []core.PurchaseRecord{
		{ID: 1, Product: "Milk", Price: core.Money{Cents: 189}, Quantity: 2,
			Organization: "SuperMart", PurchaseDate: core.NewDate(2026, 1, 10)},
		{ID: 2, Product: "Bread", Price: core.Money{Cents: 250}, Quantity: 1,
			PurchaseDate: core.NewDate(2026, 1, 11)},
	}
	got := Records(records)
	for _, want := range []string{"#1", "Milk x2", "1.89", "(SuperMart)", "#2", "Bread", "Total: 4.39 over 2 item(s)"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Bread x1") {
		t.Error("quantity 1 should not be rendered")
	}
}

func TestGroups(t *testing.T) {
	groups := []core.Group{
		{Key: "Dairy", Count: 3, Total: core.Money{Cents: 900}},
		{Key: "", Count: 1, Total: core.Money{Cents: 100}},
	}
	got := Groups(groups)
	for _, want := range []string{"Dairy: 9.00 (3 item(s))", "(none): 1.00", "Total: 10.00"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestSummary(t *testing.T) {
	got := Summary(core.Summary{Count: 7, ReceiptCount: 2, Total: core.Money{Cents: 4321}})
	if got != "43.21 across 7 item(s) on 2 receipt(s)" {
		t.Errorf("Summary = %q", got)
	}
}
