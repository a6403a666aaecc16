package memory

import (
	"context"
	"testing"

	"chequebot/internal/core"
	"chequebot/internal/sheets"
)

// The fake must satisfy both ports.
var (
	_ sheets.Exporter = (*Service)(nil)
	_ sheets.Mirror   = (*Service)(nil)
)

func TestExportsRecorded(t *testing.T) {
	s := NewService()
	ctx := context.Background()

	url, err := s.ExportRecords(ctx, "January", []core.PurchaseRecord{{ID: 1, Product: "Milk"}})
	if err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}
	if url == "" {
		t.Fatal("export must return a url")
	}

	if _, err := s.ExportGroups(ctx, "By category", []core.Group{{Key: "Dairy"}}, true); err != nil {
		t.Fatalf("ExportGroups: %v", err)
	}

	exports := s.Exports()
	if len(exports) != 2 {
		t.Fatalf("got %d exports, want 2", len(exports))
	}
	if exports[0].Title != "January" || len(exports[0].Records) != 1 {
		t.Errorf("first export = %+v", exports[0])
	}
	if !exports[1].Chart {
		t.Error("second export should carry the chart flag")
	}
}

func TestMirrorAccumulates(t *testing.T) {
	s := NewService()
	ctx := context.Background()

	s.AppendRecords(ctx, []core.PurchaseRecord{{ID: 1}, {ID: 2}})
	s.AppendRecords(ctx, []core.PurchaseRecord{{ID: 3}})

	if got := len(s.MirrorRows()); got != 3 {
		t.Errorf("mirror has %d rows, want 3", got)
	}
}
