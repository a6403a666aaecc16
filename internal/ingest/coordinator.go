// Package ingest runs the receipt pipeline: store the photo, extract line
// items, normalize categories, persist with dedup, then hand the receipt to
// the mirror queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"chequebot/internal/amqp"
	"chequebot/internal/category"
	"chequebot/internal/core"
	"chequebot/internal/format"
	"chequebot/internal/llm"
)

// Stage of the pipeline a receipt has reached. Stages only move forward;
// a failure freezes the receipt at its current stage.
type Stage string

const (
	StageReceived   Stage = "received"
	StageStored     Stage = "stored"
	StageExtracted  Stage = "extracted"
	StageNormalized Stage = "normalized"
	StagePersisted  Stage = "persisted"
)

// StageError reports at which stage ingestion stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingest stopped at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrNoItems means the extractor found nothing on the photo, usually
// because it is not a receipt.
var ErrNoItems = errors.New("no line items recognized on the photo")

// Repository is the slice of the storage gateway the pipeline needs.
type Repository interface {
	SaveReceipt(ctx context.Context, rc core.Receipt) error
	InsertBatch(ctx context.Context, userID string, records []core.PurchaseRecord) (inserted, duplicates int, err error)
}

// Publisher enqueues mirror-sync work. May be nil when no broker is
// configured; persistence does not depend on it.
type Publisher interface {
	PublishReceiptSync(ctx context.Context, msg amqp.ReceiptSyncMessage) error
}

type Coordinator struct {
	repo        Repository
	extractor   llm.Extractor
	norm        *category.Normalizer
	publisher   Publisher
	receiptsDir string
}

func NewCoordinator(repo Repository, extractor llm.Extractor, norm *category.Normalizer, publisher Publisher, receiptsDir string) *Coordinator {
	return &Coordinator{
		repo:        repo,
		extractor:   extractor,
		norm:        norm,
		publisher:   publisher,
		receiptsDir: receiptsDir,
	}
}

// Ingest runs the full pipeline for one photo and returns the user-facing
// report. The artifact file and receipt row survive any later failure, so
// a photo can be reprocessed without re-uploading.
func (c *Coordinator) Ingest(ctx context.Context, userID string, image []byte, mimeType, messageRef string) (format.IngestReport, error) {
	receiptID := uuid.NewString()
	stage := StageReceived
	log := slog.With("user_id", userID, "receipt_id", receiptID)
	log.InfoContext(ctx, "Receipt received", "bytes", len(image))

	fail := func(err error) (format.IngestReport, error) {
		log.ErrorContext(ctx, "Ingestion failed", "stage", string(stage), "error", err)
		return format.IngestReport{}, &StageError{Stage: stage, Err: err}
	}

	path, err := c.storeArtifact(userID, receiptID, image, mimeType)
	if err != nil {
		return fail(err)
	}
	if err := c.repo.SaveReceipt(ctx, core.Receipt{
		ID:         receiptID,
		UserID:     userID,
		FilePath:   path,
		MessageRef: messageRef,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return fail(err)
	}
	stage = StageStored

	items, err := c.extractor.ExtractReceipt(ctx, image, mimeType)
	if err != nil {
		return fail(err)
	}
	if len(items) == 0 {
		return fail(ErrNoItems)
	}
	stage = StageExtracted
	log.InfoContext(ctx, "Receipt extracted", "items", len(items))

	records := make([]core.PurchaseRecord, 0, len(items))
	var total int64
	for _, li := range items {
		li.Category = c.norm.Normalize(li.Product + " " + li.Description)
		rec := core.RecordFromLineItem(userID, receiptID, li)
		records = append(records, rec)
		total += rec.Price.Cents // price is the line total, not the unit price
	}
	stage = StageNormalized

	inserted, duplicates, err := c.repo.InsertBatch(ctx, userID, records)
	if err != nil {
		return fail(err)
	}
	stage = StagePersisted
	log.InfoContext(ctx, "Receipt persisted", "inserted", inserted, "duplicates", duplicates)

	if c.publisher != nil && inserted > 0 {
		msg := amqp.ReceiptSyncMessage{UserID: userID, ReceiptID: receiptID}
		if err := c.publisher.PublishReceiptSync(ctx, msg); err != nil {
			// Mirroring is best effort here; the worker's periodic pass
			// picks up anything that never made it onto the queue.
			log.WarnContext(ctx, "Mirror enqueue failed", "error", err)
		}
	}

	return format.IngestReport{
		ReceiptID:    receiptID,
		Organization: records[0].Organization,
		Date:         records[0].PurchaseDate,
		Inserted:     inserted,
		Duplicates:   duplicates,
		Total:        core.Money{Cents: total},
	}, nil
}

// storeArtifact writes the photo under the per-user artifact directory.
func (c *Coordinator) storeArtifact(userID, receiptID string, image []byte, mimeType string) (string, error) {
	dir := filepath.Join(c.receiptsDir, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	path := filepath.Join(dir, receiptID+extensionFor(mimeType))
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
