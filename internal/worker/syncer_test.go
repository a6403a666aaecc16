package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chequebot/internal/amqp"
	"chequebot/internal/core"
	"chequebot/internal/sheets/memory"
	"chequebot/internal/storage"
)

func newTestSyncer(t *testing.T) (*Syncer, *storage.SQLiteRepository, *memory.Service) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"), 1)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	mirror := memory.NewService()
	return NewSyncer(repo, mirror, time.Minute), repo, mirror
}

func seedReceipt(t *testing.T, repo *storage.SQLiteRepository, userID, receiptID string, products ...string) {
	t.Helper()
	var records []core.PurchaseRecord
	for i, p := range products {
		records = append(records, core.PurchaseRecord{
			UserID: userID, ReceiptID: receiptID, Product: p,
			Price: core.Money{Cents: int64(100 * (i + 1))}, Quantity: 1,
			PurchaseDate: core.NewDate(2026, 2, 10),
		})
	}
	if _, _, err := repo.InsertBatch(context.Background(), userID, records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHandleMessageMirrorsAndMarks(t *testing.T) {
	s, repo, mirror := newTestSyncer(t)
	ctx := context.Background()
	seedReceipt(t, repo, "u1", "r1", "Milk", "Bread")

	msg := amqp.ReceiptSyncMessage{UserID: "u1", ReceiptID: "r1"}
	if err := s.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := len(mirror.MirrorRows()); got != 2 {
		t.Fatalf("mirrored %d rows, want 2", got)
	}

	// Redelivery is a no-op: the rows are already stamped.
	if err := s.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := len(mirror.MirrorRows()); got != 2 {
		t.Errorf("redelivery duplicated mirror rows: %d", got)
	}
}

func TestCatchUpMirrorsStragglers(t *testing.T) {
	s, repo, mirror := newTestSyncer(t)
	ctx := context.Background()
	seedReceipt(t, repo, "u1", "r1", "Milk")
	seedReceipt(t, repo, "u2", "r2", "Soap")

	if err := s.CatchUp(ctx); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if got := len(mirror.MirrorRows()); got != 2 {
		t.Fatalf("mirrored %d rows, want 2", got)
	}

	pending, err := repo.PendingSyncRecords(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d records still pending after catch-up", len(pending))
	}
}

type failingMirror struct {
	err error
}

func (f *failingMirror) AppendRecords(context.Context, []core.PurchaseRecord) error {
	return f.err
}

func TestPermanentMirrorFailureFlagsRecords(t *testing.T) {
	_, repo, _ := newTestSyncer(t)
	ctx := context.Background()
	seedReceipt(t, repo, "u1", "r1", "Milk")

	s := NewSyncer(repo, &failingMirror{err: errors.New("spreadsheet gone")}, time.Minute)
	if err := s.HandleMessage(ctx, amqp.ReceiptSyncMessage{UserID: "u1", ReceiptID: "r1"}); err == nil {
		t.Fatal("mirror failure should surface")
	}

	// Flagged rows leave the pending set so the worker does not spin.
	pending, err := repo.PendingSyncRecords(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d records still pending after permanent failure", len(pending))
	}
}

func TestTransientMirrorFailureKeepsRecordsPending(t *testing.T) {
	_, repo, _ := newTestSyncer(t)
	ctx := context.Background()
	seedReceipt(t, repo, "u1", "r1", "Milk")

	s := NewSyncer(repo, &failingMirror{err: core.Transient("append", errors.New("rate limited"))}, time.Minute)
	err := s.HandleMessage(ctx, amqp.ReceiptSyncMessage{UserID: "u1", ReceiptID: "r1"})
	if !core.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}

	pending, pendErr := repo.PendingSyncRecords(ctx, 10)
	if pendErr != nil {
		t.Fatalf("pending: %v", pendErr)
	}
	if len(pending) != 1 {
		t.Errorf("transient failure must keep records pending, got %d", len(pending))
	}
}
