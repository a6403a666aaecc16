package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chequebot/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"), 1)
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(product string, cents int64, date core.Date) core.PurchaseRecord {
	return core.PurchaseRecord{
		Organization: "Market X",
		Product:      product,
		Category:     "Groceries",
		Price:        core.Money{Cents: cents},
		Quantity:     1,
		PurchaseDate: date,
	}
}

func TestInsertBatchDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	date := core.NewDate(2025, 10, 1)

	batch := []core.PurchaseRecord{record("Bread", 250, date), record("Milk", 300, date)}
	for i := range batch {
		batch[i].ReceiptID = "rcpt-1"
	}

	inserted, dups, err := repo.InsertBatch(ctx, "u1", batch)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if inserted != 2 || dups != 0 {
		t.Fatalf("first insert = (%d, %d), want (2, 0)", inserted, dups)
	}

	// Resubmitting the identical receipt: everything is a duplicate.
	resubmit := []core.PurchaseRecord{record("Bread", 250, date), record("Milk", 300, date)}
	for i := range resubmit {
		resubmit[i].ReceiptID = "rcpt-2"
	}
	inserted, dups, err = repo.InsertBatch(ctx, "u1", resubmit)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted != 0 || dups != 2 {
		t.Fatalf("second insert = (%d, %d), want (0, 2)", inserted, dups)
	}

	// Price within tolerance (1 cent) still counts as a duplicate.
	near := []core.PurchaseRecord{record("Bread", 251, date)}
	near[0].ReceiptID = "rcpt-3"
	_, dups, err = repo.InsertBatch(ctx, "u1", near)
	if err != nil || dups != 1 {
		t.Fatalf("tolerance insert dups = %d (err=%v), want 1", dups, err)
	}

	// Outside the tolerance it is a new record.
	far := []core.PurchaseRecord{record("Bread", 260, date)}
	far[0].ReceiptID = "rcpt-4"
	inserted, dups, err = repo.InsertBatch(ctx, "u1", far)
	if err != nil || inserted != 1 || dups != 0 {
		t.Fatalf("outside tolerance = (%d, %d, %v), want (1, 0, nil)", inserted, dups, err)
	}

	// The same lines for a different user are not duplicates.
	other := []core.PurchaseRecord{record("Bread", 250, date)}
	other[0].ReceiptID = "rcpt-5"
	inserted, _, err = repo.InsertBatch(ctx, "u2", other)
	if err != nil || inserted != 1 {
		t.Fatalf("other user insert = %d (err=%v), want 1", inserted, err)
	}
}

func TestInsertBatchKeepsRepeatedLinesWithinOneReceipt(t *testing.T) {
	repo := newTestRepo(t)
	date := core.NewDate(2025, 10, 1)
	batch := []core.PurchaseRecord{record("Coffee", 350, date), record("Coffee", 350, date)}
	for i := range batch {
		batch[i].ReceiptID = "rcpt-1"
	}
	inserted, dups, err := repo.InsertBatch(context.Background(), "u1", batch)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 2 || dups != 0 {
		t.Fatalf("same-receipt repeated lines = (%d, %d), want (2, 0)", inserted, dups)
	}
}

func TestFetchByFilterScopesAndSorts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mine := []core.PurchaseRecord{
		record("Bread", 250, core.NewDate(2025, 10, 1)),
		record("Milk", 300, core.NewDate(2025, 10, 3)),
		record("Shampoo", 700, core.NewDate(2025, 10, 2)),
	}
	mine[2].Category = "Personal Care"
	if _, _, err := repo.InsertBatch(ctx, "u1", mine); err != nil {
		t.Fatal(err)
	}
	theirs := []core.PurchaseRecord{record("Bread", 250, core.NewDate(2025, 10, 1))}
	theirs[0].ReceiptID = "other"
	if _, _, err := repo.InsertBatch(ctx, "u2", theirs); err != nil {
		t.Fatal(err)
	}

	t.Run("never returns another user's records", func(t *testing.T) {
		got, err := repo.FetchByFilter(ctx, "u1", core.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d records, want 3", len(got))
		}
		for _, rec := range got {
			if rec.UserID != "u1" {
				t.Fatalf("record %d owned by %q leaked into u1's result", rec.ID, rec.UserID)
			}
		}
	})

	t.Run("date descending by default", func(t *testing.T) {
		got, err := repo.FetchByFilter(ctx, "u1", core.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(got); i++ {
			if got[i].PurchaseDate.After(got[i-1].PurchaseDate.Time) {
				t.Fatalf("records not date-descending: %v before %v",
					got[i-1].PurchaseDate, got[i].PurchaseDate)
			}
		}
	})

	t.Run("category and range compose", func(t *testing.T) {
		got, err := repo.FetchByFilter(ctx, "u1", core.Filter{
			Category: "groceries",
			From:     core.NewDate(2025, 10, 2),
			To:       core.NewDate(2025, 10, 31),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Product != "Milk" {
			t.Fatalf("composed filter returned %+v, want only Milk", got)
		}
	})

	t.Run("organization substring is case-insensitive", func(t *testing.T) {
		got, err := repo.FetchByFilter(ctx, "u1", core.Filter{Organization: "market"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d records for org substring, want 3", len(got))
		}
	})
}

func TestUpdateFieldOwnership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, _, err := repo.InsertBatch(ctx, "u1",
		[]core.PurchaseRecord{record("Bread", 250, core.NewDate(2025, 10, 1))}); err != nil {
		t.Fatal(err)
	}
	recs, err := repo.FetchByFilter(ctx, "u1", core.Filter{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("setup fetch: %v", err)
	}
	id := recs[0].ID

	t.Run("updates own record and returns new state", func(t *testing.T) {
		updated, err := repo.UpdateField(ctx, "u1", id, "price", "2.99")
		if err != nil {
			t.Fatal(err)
		}
		if updated.Price.Cents != 299 {
			t.Fatalf("price = %d, want 299", updated.Price.Cents)
		}
	})

	t.Run("price can be set to zero", func(t *testing.T) {
		updated, err := repo.UpdateField(ctx, "u1", id, "price", "0.00")
		if err != nil {
			t.Fatal(err)
		}
		if updated.Price.Cents != 0 {
			t.Fatalf("price = %d, want 0", updated.Price.Cents)
		}
		if _, err := repo.UpdateField(ctx, "u1", id, "price", "2.99"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("another user's record is not found, not forbidden", func(t *testing.T) {
		_, err := repo.UpdateField(ctx, "u2", id, "price", "0.01")
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		// And u1's record is untouched.
		rec, err := repo.GetRecord(ctx, "u1", id)
		if err != nil || rec.Price.Cents != 299 {
			t.Fatalf("record mutated across users: %+v (err=%v)", rec, err)
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		if _, err := repo.UpdateField(ctx, "u1", id, "user_id", "u2"); err == nil {
			t.Fatal("expected error for non-whitelisted field")
		}
	})

	t.Run("bad value rejected", func(t *testing.T) {
		if _, err := repo.UpdateField(ctx, "u1", id, "quantity", "-3"); err == nil {
			t.Fatal("expected error for negative quantity")
		}
	})
}

func TestAggregateAndSummarize(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	batch := []core.PurchaseRecord{
		record("Bread", 250, core.NewDate(2025, 10, 1)),
		record("Milk", 300, core.NewDate(2025, 10, 1)),
		record("Shampoo", 700, core.NewDate(2025, 10, 2)),
	}
	batch[2].Category = "Personal Care"
	for i := range batch {
		batch[i].ReceiptID = "rcpt-1"
	}
	if _, _, err := repo.InsertBatch(ctx, "u1", batch); err != nil {
		t.Fatal(err)
	}

	groups, err := repo.Aggregate(ctx, "u1", core.GroupByCategory, core.Date{}, core.Date{})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	// Largest total first.
	if groups[0].Key != "Personal Care" || groups[0].Total.Cents != 700 {
		t.Errorf("top group = %+v, want Personal Care / 700", groups[0])
	}
	if groups[1].Key != "Groceries" || groups[1].Total.Cents != 550 || groups[1].Count != 2 {
		t.Errorf("second group = %+v, want Groceries / 550 / 2", groups[1])
	}

	sum, err := repo.Summarize(ctx, "u1", core.NewDate(2025, 10, 1), core.NewDate(2025, 10, 1))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 2 || sum.Total.Cents != 550 {
		t.Errorf("summary = %+v, want count 2, total 550", sum)
	}

	if _, err := repo.Aggregate(ctx, "u1", core.GroupBy("bogus"), core.Date{}, core.Date{}); err == nil {
		t.Error("expected error for unsupported group key")
	}
}

func TestReceiptOperations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveReceipt(ctx, core.Receipt{
		ID: "rcpt-1", UserID: "u1", FilePath: "/tmp/r.jpg", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	batch := []core.PurchaseRecord{record("Bread", 250, core.NewDate(2025, 10, 1))}
	batch[0].ReceiptID = "rcpt-1"
	if _, _, err := repo.InsertBatch(ctx, "u1", batch); err != nil {
		t.Fatal(err)
	}

	t.Run("last receipt id", func(t *testing.T) {
		id, err := repo.LastReceiptID(ctx, "u1")
		if err != nil || id != "rcpt-1" {
			t.Fatalf("LastReceiptID = %q (err=%v), want rcpt-1", id, err)
		}
		if _, err := repo.LastReceiptID(ctx, "empty-user"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for user without receipts, got %v", err)
		}
	})

	t.Run("insert into receipt inherits org and date", func(t *testing.T) {
		rec, err := repo.InsertIntoReceipt(ctx, "u1", "rcpt-1", core.PurchaseRecord{
			Product: "Juice", Price: core.Money{Cents: 199}, Category: "Beverages",
		})
		if err != nil {
			t.Fatal(err)
		}
		if rec.Organization != "Market X" || rec.PurchaseDate.String() != "2025-10-01" {
			t.Fatalf("inherited fields wrong: %+v", rec)
		}
	})

	t.Run("insert into foreign receipt is not found", func(t *testing.T) {
		_, err := repo.InsertIntoReceipt(ctx, "u2", "rcpt-1", core.PurchaseRecord{
			Product: "Juice", Price: core.Money{Cents: 199},
		})
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete receipt records", func(t *testing.T) {
		deleted, err := repo.DeleteReceiptRecords(ctx, "u1", "rcpt-1")
		if err != nil || deleted != 2 {
			t.Fatalf("deleted = %d (err=%v), want 2", deleted, err)
		}
		if _, err := repo.DeleteReceiptRecords(ctx, "u1", "rcpt-1"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("second delete should be not found, got %v", err)
		}
	})
}

func TestPendingSyncLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, _, err := repo.InsertBatch(ctx, "u1",
		[]core.PurchaseRecord{record("Bread", 250, core.NewDate(2025, 10, 1))}); err != nil {
		t.Fatal(err)
	}

	pending, err := repo.PendingSyncRecords(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d (err=%v), want 1", len(pending), err)
	}

	if err := repo.MarkSynced(ctx, pending[0].ID); err != nil {
		t.Fatal(err)
	}
	pending, err = repo.PendingSyncRecords(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("after MarkSynced pending = %d (err=%v), want 0", len(pending), err)
	}
}
