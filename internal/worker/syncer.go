// Package worker mirrors persisted purchase records to the long-lived
// spreadsheet. It consumes sync messages from the queue and runs a periodic
// catch-up pass for records whose message was lost.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"chequebot/internal/amqp"
	"chequebot/internal/core"
	"chequebot/internal/sheets"
)

// catchUpBatch bounds how many stragglers one periodic pass mirrors.
const catchUpBatch = 200

// Repository is the slice of the storage gateway the worker needs.
type Repository interface {
	PendingSyncByReceipt(ctx context.Context, userID, receiptID string) ([]core.PurchaseRecord, error)
	PendingSyncRecords(ctx context.Context, limit int) ([]core.PurchaseRecord, error)
	MarkSynced(ctx context.Context, recordID int64) error
	MarkSyncError(ctx context.Context, recordID int64) error
}

// Consumer delivers queued sync messages; satisfied by the amqp client.
type Consumer interface {
	ConsumeReceiptSync(ctx context.Context, handler func(context.Context, amqp.ReceiptSyncMessage) error) error
}

type Syncer struct {
	repo     Repository
	mirror   sheets.Mirror
	interval time.Duration
}

func NewSyncer(repo Repository, mirror sheets.Mirror, catchUpInterval time.Duration) *Syncer {
	if catchUpInterval <= 0 {
		catchUpInterval = 15 * time.Minute
	}
	return &Syncer{repo: repo, mirror: mirror, interval: catchUpInterval}
}

// Run consumes the queue and runs the catch-up ticker until ctx is
// cancelled.
func (s *Syncer) Run(ctx context.Context, consumer Consumer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.ConsumeReceiptSync(ctx, s.HandleMessage)
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		// One pass at startup picks up whatever accumulated while the
		// worker was down.
		if err := s.CatchUp(ctx); err != nil {
			slog.WarnContext(ctx, "Catch-up pass failed", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := s.CatchUp(ctx); err != nil {
					slog.WarnContext(ctx, "Catch-up pass failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// HandleMessage mirrors one receipt's unsynced records.
func (s *Syncer) HandleMessage(ctx context.Context, msg amqp.ReceiptSyncMessage) error {
	records, err := s.repo.PendingSyncByReceipt(ctx, msg.UserID, msg.ReceiptID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		// Redelivery of an already-mirrored receipt.
		return nil
	}
	return s.mirrorRecords(ctx, records)
}

// CatchUp mirrors records whose sync message never arrived.
func (s *Syncer) CatchUp(ctx context.Context) error {
	records, err := s.repo.PendingSyncRecords(ctx, catchUpBatch)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	slog.InfoContext(ctx, "Catch-up mirroring stragglers", "records", len(records))
	return s.mirrorRecords(ctx, records)
}

func (s *Syncer) mirrorRecords(ctx context.Context, records []core.PurchaseRecord) error {
	if err := s.mirror.AppendRecords(ctx, records); err != nil {
		if !core.IsTransient(err) {
			// A permanent append failure would loop forever; flag the rows
			// and let the periodic retry decide later.
			for _, rec := range records {
				if markErr := s.repo.MarkSyncError(ctx, rec.ID); markErr != nil {
					slog.ErrorContext(ctx, "Failed to flag sync error", "id", rec.ID, "error", markErr)
				}
			}
		}
		return err
	}

	for _, rec := range records {
		if err := s.repo.MarkSynced(ctx, rec.ID); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Mirrored records", "count", len(records))
	return nil
}
