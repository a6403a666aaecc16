// Package storage is the data store gateway: typed, user-scoped CRUD and
// aggregation over purchase records and receipt artifacts in SQLite. Every
// query carries the owning user id; no operation can read or mutate another
// user's partition.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chequebot/internal/core"

	_ "modernc.org/sqlite"
)

// UpdatableFields is the whitelist of record fields the update tool may
// touch, mapped to their columns.
var UpdatableFields = map[string]string{
	"price":        "price_cents",
	"quantity":     "quantity",
	"product":      "product",
	"description":  "description",
	"category":     "category",
	"organization": "organization",
	"date":         "purchase_date",
}

type SQLiteRepository struct {
	db *sql.DB

	// dupTolerance is the max price delta, in cents, for a line item to
	// count as a duplicate of an existing record with the same user,
	// organization, purchase date, product and description.
	dupTolerance int64
}

func NewSQLiteRepository(dbPath string, dupToleranceCents int64) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, dupTolerance: dupToleranceCents}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveReceipt records a raw receipt artifact. Artifacts are immutable and
// never deleted by this layer.
func (r *SQLiteRepository) SaveReceipt(ctx context.Context, rc core.Receipt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts (id, user_id, file_path, message_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		rc.ID, rc.UserID, rc.FilePath, rc.MessageRef, rc.CreatedAt.UTC())
	if err != nil {
		return core.Transient("save receipt", err)
	}
	return nil
}

// InsertBatch inserts records for userID, skipping near-duplicates. A
// record is a duplicate when the same user already has one with the same
// organization, purchase date, product and description whose price differs
// by at most the configured tolerance. Rows belonging to the same receipt are not
// compared against each other, so genuinely repeated lines on one receipt
// survive. Returns how many rows were inserted and how many skipped.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, userID string, records []core.PurchaseRecord) (inserted, duplicates int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, core.Transient("begin insert batch", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		rec.UserID = userID
		if rec.Quantity <= 0 {
			rec.Quantity = 1
		}
		if err := rec.Validate(); err != nil {
			return 0, 0, fmt.Errorf("invalid record %q: %w", rec.Product, err)
		}

		dupQuery := `SELECT COUNT(*) FROM purchases
			 WHERE user_id = ? AND purchase_date = ? AND organization = ? AND product = ?
			   AND description = ? AND ABS(price_cents - ?) <= ?`
		dupArgs := []any{userID, rec.PurchaseDate.String(), rec.Organization, rec.Product,
			rec.Description, rec.Price.Cents, r.dupTolerance}
		if rec.ReceiptID != "" {
			// Rows of the receipt being ingested don't compete with each
			// other; see the doc comment.
			dupQuery += ` AND receipt_id <> ?`
			dupArgs = append(dupArgs, rec.ReceiptID)
		}
		var existing int
		err = tx.QueryRowContext(ctx, dupQuery, dupArgs...).Scan(&existing)
		if err != nil {
			return 0, 0, core.Transient("check duplicate", err)
		}
		if existing > 0 {
			duplicates++
			continue
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO purchases (user_id, receipt_id, organization, product, description,
			                        category, price_cents, quantity, purchase_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, rec.ReceiptID, rec.Organization, rec.Product, rec.Description,
			rec.Category, rec.Price.Cents, rec.Quantity, rec.PurchaseDate.String(), createdAt)
		if err != nil {
			return 0, 0, core.Transient("insert record", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, core.Transient("commit insert batch", err)
	}

	slog.InfoContext(ctx, "Inserted purchase batch",
		"user_id", userID, "inserted", inserted, "duplicates", duplicates)
	return inserted, duplicates, nil
}

// FetchByFilter returns userID's records matching the filter, ordered by
// purchase date (descending unless the filter overrides).
func (r *SQLiteRepository) FetchByFilter(ctx context.Context, userID string, f core.Filter) ([]core.PurchaseRecord, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}

	if !f.From.IsZero() {
		where = append(where, "purchase_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "purchase_date <= ?")
		args = append(args, f.To.String())
	}
	if f.Category != "" {
		where = append(where, "LOWER(category) = LOWER(?)")
		args = append(args, f.Category)
	}
	if f.Organization != "" {
		where = append(where, "LOWER(organization) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Organization)
	}
	if f.Product != "" {
		where = append(where, "LOWER(product) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Product)
	}
	if f.Description != "" {
		where = append(where, "LOWER(description) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.Description)
	}
	if f.RecordID != 0 {
		where = append(where, "id = ?")
		args = append(args, f.RecordID)
	}
	if f.ReceiptID != "" {
		where = append(where, "receipt_id = ?")
		args = append(args, f.ReceiptID)
	}

	order := "purchase_date DESC, id DESC"
	if f.Ascending {
		order = "purchase_date ASC, id ASC"
	}
	query := fmt.Sprintf(
		`SELECT id, user_id, receipt_id, organization, product, description, category,
		        price_cents, quantity, purchase_date, created_at
		 FROM purchases WHERE %s ORDER BY %s`,
		strings.Join(where, " AND "), order)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.Transient("fetch by filter", err)
	}
	defer rows.Close()

	var out []core.PurchaseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("iterate records", err)
	}
	return out, nil
}

// GetRecord fetches a single record by id within the user's partition.
func (r *SQLiteRepository) GetRecord(ctx context.Context, userID string, recordID int64) (core.PurchaseRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, receipt_id, organization, product, description, category,
		        price_cents, quantity, purchase_date, created_at
		 FROM purchases WHERE id = ? AND user_id = ?`, recordID, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PurchaseRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.PurchaseRecord{}, core.Transient("get record", err)
	}
	return rec, nil
}

// UpdateField updates one whitelisted field of a record. A record that does
// not exist, or belongs to another user, yields core.ErrNotFound.
func (r *SQLiteRepository) UpdateField(ctx context.Context, userID string, recordID int64, field, value string) (core.PurchaseRecord, error) {
	column, ok := UpdatableFields[field]
	if !ok {
		return core.PurchaseRecord{}, fmt.Errorf("field %q is not updatable", field)
	}

	stored, err := convertFieldValue(field, value)
	if err != nil {
		return core.PurchaseRecord{}, err
	}

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE purchases SET %s = ? WHERE id = ? AND user_id = ?`, column),
		stored, recordID, userID)
	if err != nil {
		return core.PurchaseRecord{}, core.Transient("update field", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.PurchaseRecord{}, core.Transient("update field", err)
	}
	if affected == 0 {
		return core.PurchaseRecord{}, core.ErrNotFound
	}
	return r.GetRecord(ctx, userID, recordID)
}

func convertFieldValue(field, value string) (any, error) {
	switch field {
	case "price":
		cents, err := core.ParseDecimalToCents(value)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", value, err)
		}
		return cents, nil
	case "quantity":
		var qty int64
		if _, err := fmt.Sscanf(value, "%d", &qty); err != nil || qty <= 0 {
			return nil, fmt.Errorf("quantity %q: %w", value, core.ErrInvalidQty)
		}
		return qty, nil
	case "date":
		d, err := core.ParseDate(value)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	default:
		return strings.TrimSpace(value), nil
	}
}

// Aggregate returns sum and count per group key for records in the date
// range, largest total first.
func (r *SQLiteRepository) Aggregate(ctx context.Context, userID string, groupBy core.GroupBy, from, to core.Date) ([]core.Group, error) {
	var keyExpr string
	switch groupBy {
	case core.GroupByCategory:
		keyExpr = "category"
	case core.GroupByOrganization:
		keyExpr = "organization"
	case core.GroupByDay:
		keyExpr = "purchase_date"
	default:
		return nil, fmt.Errorf("unsupported group key: %s", groupBy)
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	if !from.IsZero() {
		where = append(where, "purchase_date >= ?")
		args = append(args, from.String())
	}
	if !to.IsZero() {
		where = append(where, "purchase_date <= ?")
		args = append(args, to.String())
	}

	query := fmt.Sprintf(
		`SELECT %s AS group_key,
		        COUNT(*) AS cnt,
		        COUNT(DISTINCT receipt_id) AS receipt_cnt,
		        COALESCE(SUM(price_cents), 0) AS total
		 FROM purchases WHERE %s
		 GROUP BY %s ORDER BY total DESC`,
		keyExpr, strings.Join(where, " AND "), keyExpr)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.Transient("aggregate", err)
	}
	defer rows.Close()

	var out []core.Group
	for rows.Next() {
		var g core.Group
		if err := rows.Scan(&g.Key, &g.Count, &g.ReceiptCount, &g.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Transient("iterate groups", err)
	}
	return out, nil
}

// Summarize returns the flat count/sum over the date range.
func (r *SQLiteRepository) Summarize(ctx context.Context, userID string, from, to core.Date) (core.Summary, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if !from.IsZero() {
		where = append(where, "purchase_date >= ?")
		args = append(args, from.String())
	}
	if !to.IsZero() {
		where = append(where, "purchase_date <= ?")
		args = append(args, to.String())
	}

	var s core.Summary
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), COUNT(DISTINCT receipt_id), COALESCE(SUM(price_cents), 0)
		 FROM purchases WHERE %s`, strings.Join(where, " AND ")), args...).
		Scan(&s.Count, &s.ReceiptCount, &s.Total.Cents)
	if err != nil {
		return core.Summary{}, core.Transient("summarize", err)
	}
	return s, nil
}

// InsertIntoReceipt appends a manual line item to an existing receipt,
// inheriting the receipt's organization and date from its newest row.
func (r *SQLiteRepository) InsertIntoReceipt(ctx context.Context, userID, receiptID string, rec core.PurchaseRecord) (core.PurchaseRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT organization, purchase_date FROM purchases
		 WHERE receipt_id = ? AND user_id = ? ORDER BY id DESC LIMIT 1`,
		receiptID, userID)
	var org, dateStr string
	if err := row.Scan(&org, &dateStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PurchaseRecord{}, core.ErrNotFound
		}
		return core.PurchaseRecord{}, core.Transient("load receipt head", err)
	}

	date, err := core.ParseDate(dateStr)
	if err != nil {
		date = core.Today()
	}
	rec.UserID = userID
	rec.ReceiptID = receiptID
	rec.Organization = org
	rec.PurchaseDate = date
	if rec.Quantity <= 0 {
		rec.Quantity = 1
	}
	if err := rec.Validate(); err != nil {
		return core.PurchaseRecord{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (user_id, receipt_id, organization, product, description,
		                        category, price_cents, quantity, purchase_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, receiptID, org, rec.Product, rec.Description,
		rec.Category, rec.Price.Cents, rec.Quantity, date.String(), time.Now().UTC())
	if err != nil {
		return core.PurchaseRecord{}, core.Transient("insert into receipt", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.PurchaseRecord{}, core.Transient("insert into receipt", err)
	}
	return r.GetRecord(ctx, userID, id)
}

// DeleteReceiptRecords removes all purchase rows of a receipt. The receipt
// artifact row itself is retained; cleanup of stored files is out of scope.
func (r *SQLiteRepository) DeleteReceiptRecords(ctx context.Context, userID, receiptID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM purchases WHERE receipt_id = ? AND user_id = ?`, receiptID, userID)
	if err != nil {
		return 0, core.Transient("delete receipt records", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, core.Transient("delete receipt records", err)
	}
	if deleted == 0 {
		return 0, core.ErrNotFound
	}
	return deleted, nil
}

// LastReceiptID returns the receipt id of the user's most recent purchase.
func (r *SQLiteRepository) LastReceiptID(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT receipt_id FROM purchases
		 WHERE user_id = ? AND receipt_id <> ''
		 ORDER BY purchase_date DESC, id DESC LIMIT 1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", core.Transient("last receipt", err)
	}
	return id, nil
}

// PendingSyncRecords lists records not yet mirrored to the export sheet.
func (r *SQLiteRepository) PendingSyncRecords(ctx context.Context, limit int) ([]core.PurchaseRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, receipt_id, organization, product, description, category,
		        price_cents, quantity, purchase_date, created_at
		 FROM purchases WHERE synced_at IS NULL AND sync_error = 0
		 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, core.Transient("pending sync records", err)
	}
	defer rows.Close()

	var out []core.PurchaseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PendingSyncByReceipt lists a receipt's records not yet mirrored. Used by
// the worker when a sync message arrives, so redeliveries don't duplicate
// mirror rows.
func (r *SQLiteRepository) PendingSyncByReceipt(ctx context.Context, userID, receiptID string) ([]core.PurchaseRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, receipt_id, organization, product, description, category,
		        price_cents, quantity, purchase_date, created_at
		 FROM purchases
		 WHERE user_id = ? AND receipt_id = ? AND synced_at IS NULL
		 ORDER BY id ASC`, userID, receiptID)
	if err != nil {
		return nil, core.Transient("pending sync by receipt", err)
	}
	defer rows.Close()

	var out []core.PurchaseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSynced stamps a record as mirrored.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, recordID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET synced_at = ?, sync_error = 0 WHERE id = ?`,
		time.Now().UTC(), recordID)
	if err != nil {
		return core.Transient("mark synced", err)
	}
	return nil
}

// MarkSyncError flags a record whose mirroring failed, so the worker can
// skip it until the periodic retry.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, recordID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET sync_error = 1 WHERE id = ?`, recordID)
	if err != nil {
		return core.Transient("mark sync error", err)
	}
	slog.WarnContext(ctx, "Record marked with sync error", "id", recordID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (core.PurchaseRecord, error) {
	var rec core.PurchaseRecord
	var dateStr string
	var createdAt time.Time
	err := row.Scan(&rec.ID, &rec.UserID, &rec.ReceiptID, &rec.Organization, &rec.Product,
		&rec.Description, &rec.Category, &rec.Price.Cents, &rec.Quantity, &dateStr, &createdAt)
	if err != nil {
		return core.PurchaseRecord{}, err
	}
	if d, perr := core.ParseDate(dateStr); perr == nil {
		rec.PurchaseDate = d
	}
	rec.CreatedAt = createdAt
	return rec, nil
}
