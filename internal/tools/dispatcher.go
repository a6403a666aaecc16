// Package tools is the dispatch layer between the assistant's tool calls
// and the data gateway. Every invocation is validated against the
// catalogue, scoped to the calling user and answered with a JSON payload
// the model can read back.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chequebot/internal/cache"
	"chequebot/internal/category"
	"chequebot/internal/core"
	"chequebot/internal/format"
	"chequebot/internal/sheets"
)

// Result is one served tool call. Payload is the JSON fed back to the
// model; Text is the same data rendered for a person, used by the bot
// when it has to answer without another model round.
type Result struct {
	Payload string
	Text    string
}

// maxToolRecords caps how many records a single tool call feeds back into
// the model context.
const maxToolRecords = 200

// Repository is the slice of the storage gateway the dispatcher needs.
type Repository interface {
	FetchByFilter(ctx context.Context, userID string, f core.Filter) ([]core.PurchaseRecord, error)
	UpdateField(ctx context.Context, userID string, recordID int64, field, value string) (core.PurchaseRecord, error)
	Aggregate(ctx context.Context, userID string, groupBy core.GroupBy, from, to core.Date) ([]core.Group, error)
	Summarize(ctx context.Context, userID string, from, to core.Date) (core.Summary, error)
	InsertIntoReceipt(ctx context.Context, userID, receiptID string, rec core.PurchaseRecord) (core.PurchaseRecord, error)
	DeleteReceiptRecords(ctx context.Context, userID, receiptID string) (int64, error)
	LastReceiptID(ctx context.Context, userID string) (string, error)
}

type Dispatcher struct {
	repo     Repository
	norm     *category.Normalizer
	exporter sheets.Exporter
	cache    *cache.LRUCache[Result]

	// today is swappable so period boundaries are testable.
	today func() core.Date
}

func NewDispatcher(repo Repository, norm *category.Normalizer, exporter sheets.Exporter) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		norm:     norm,
		exporter: exporter,
		cache:    cache.NewLRUCache[Result](256, 2*time.Minute),
		today:    core.Today,
	}
}

// Invoke runs one tool call on behalf of userID. Unknown tools and
// invalid arguments are rejected without touching the store.
func (d *Dispatcher) Invoke(ctx context.Context, userID, name string, args json.RawMessage) (Result, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	res, err := d.invoke(ctx, userID, name, args)
	if err != nil {
		slog.WarnContext(ctx, "Tool call failed",
			"tool", name, "user_id", userID, "error", err)
		return Result{}, err
	}
	slog.InfoContext(ctx, "Tool call served",
		"tool", name, "user_id", userID, "duration", time.Since(start))
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, userID, name string, args json.RawMessage) (Result, error) {
	switch name {
	case ToolFetchByPeriod, ToolFetchByCategory, ToolFetchByOrganization,
		ToolFetchByProduct, ToolFetchByDescription, ToolGetReceipt:
		return d.fetch(ctx, userID, name, args)
	case ToolGetLastNDays, ToolGetCurrentWeek, ToolGetCurrentMonth,
		ToolGetYesterday, ToolGetPreviousMonth:
		from, to, err := d.namedPeriod(name, args)
		if err != nil {
			return Result{}, err
		}
		return d.fetchFilter(ctx, userID, core.Filter{From: from, To: to})
	case ToolGetLastReceipt:
		receiptID, err := d.repo.LastReceiptID(ctx, userID)
		if errors.Is(err, core.ErrNotFound) {
			return result(recordsPayload(nil), format.Records(nil))
		}
		if err != nil {
			return Result{}, err
		}
		return d.fetchFilter(ctx, userID, core.Filter{ReceiptID: receiptID, Ascending: true})
	case ToolGetSummary, ToolGetSummaryLastNDays:
		return d.summary(ctx, userID, name, args)
	case ToolGroupedByCategory, ToolGroupedByOrganization, ToolGroupedByDay:
		return d.grouped(ctx, userID, name, args)
	case ToolUpdateRecord:
		return d.updateRecord(ctx, userID, args)
	case ToolAddItemToReceipt:
		return d.addItem(ctx, userID, args)
	case ToolDeleteReceipt:
		return d.deleteReceipt(ctx, userID, args)
	case ToolExportPeriod:
		return d.exportPeriod(ctx, userID, args)
	case ToolExportGrouped:
		return d.exportGrouped(ctx, userID, args, false)
	case ToolChartGrouped:
		return d.exportGrouped(ctx, userID, args, true)
	default:
		return Result{}, &UnknownToolError{Name: name}
	}
}

type fetchArgs struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Category     string `json:"category"`
	Organization string `json:"organization"`
	Product      string `json:"product"`
	Description  string `json:"description"`
	ReceiptID    string `json:"receipt_id"`
}

func (d *Dispatcher) fetch(ctx context.Context, userID, tool string, raw json.RawMessage) (Result, error) {
	var a fetchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(tool, "arguments", "not a JSON object")
	}

	f := core.Filter{
		Category:     a.Category,
		Organization: a.Organization,
		Product:      a.Product,
		Description:  a.Description,
	}
	var err error
	if f.From, f.To, err = parseRange(tool, a.From, a.To); err != nil {
		return Result{}, err
	}

	switch tool {
	case ToolFetchByPeriod:
		if f.From.IsZero() || f.To.IsZero() {
			return Result{}, invalidArg(tool, "from", "both from and to are required")
		}
	case ToolFetchByCategory:
		if a.Category == "" {
			return Result{}, invalidArg(tool, "category", "required")
		}
	case ToolFetchByOrganization:
		if a.Organization == "" {
			return Result{}, invalidArg(tool, "organization", "required")
		}
	case ToolFetchByProduct:
		if a.Product == "" {
			return Result{}, invalidArg(tool, "product", "required")
		}
	case ToolFetchByDescription:
		if a.Description == "" {
			return Result{}, invalidArg(tool, "description", "required")
		}
	case ToolGetReceipt:
		if a.ReceiptID == "" {
			return Result{}, invalidArg(tool, "receipt_id", "required")
		}
		f = core.Filter{ReceiptID: a.ReceiptID, Ascending: true}
	}
	return d.fetchFilter(ctx, userID, f)
}

func (d *Dispatcher) fetchFilter(ctx context.Context, userID string, f core.Filter) (Result, error) {
	if f.Limit == 0 {
		f.Limit = maxToolRecords
	}
	var records []core.PurchaseRecord
	err := d.withRetry(ctx, func() error {
		var err error
		records, err = d.repo.FetchByFilter(ctx, userID, f)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result(recordsPayload(records), format.Records(records))
}

type nDaysArgs struct {
	N int `json:"n"`
}

func (d *Dispatcher) namedPeriod(tool string, raw json.RawMessage) (core.Date, core.Date, error) {
	today := d.today()
	switch tool {
	case ToolGetLastNDays, ToolGetSummaryLastNDays:
		var a nDaysArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return core.Date{}, core.Date{}, invalidArg(tool, "arguments", "not a JSON object")
		}
		if a.N < 1 {
			return core.Date{}, core.Date{}, invalidArg(tool, "n", "must be at least 1")
		}
		from, to := periodLastNDays(today, a.N)
		return from, to, nil
	case ToolGetCurrentWeek:
		from, to := periodCurrentWeek(today)
		return from, to, nil
	case ToolGetCurrentMonth:
		from, to := periodCurrentMonth(today)
		return from, to, nil
	case ToolGetYesterday:
		from, to := periodYesterday(today)
		return from, to, nil
	case ToolGetPreviousMonth:
		from, to := periodPreviousMonth(today)
		return from, to, nil
	}
	return core.Date{}, core.Date{}, &UnknownToolError{Name: tool}
}

func (d *Dispatcher) summary(ctx context.Context, userID, tool string, raw json.RawMessage) (Result, error) {
	var from, to core.Date
	var err error
	if tool == ToolGetSummaryLastNDays {
		if from, to, err = d.namedPeriod(tool, raw); err != nil {
			return Result{}, err
		}
	} else {
		var a fetchArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return Result{}, invalidArg(tool, "arguments", "not a JSON object")
		}
		if from, to, err = parseRange(tool, a.From, a.To); err != nil {
			return Result{}, err
		}
	}

	key := cacheKey(userID, tool, from, to, "")
	if hit, ok := d.cache.Get(key); ok {
		return hit, nil
	}

	var s core.Summary
	err = d.withRetry(ctx, func() error {
		var err error
		s, err = d.repo.Summarize(ctx, userID, from, to)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	res, err := result(summaryPayload(s), format.Summary(s))
	if err != nil {
		return Result{}, err
	}
	d.cache.Set(key, res)
	return res, nil
}

func (d *Dispatcher) grouped(ctx context.Context, userID, tool string, raw json.RawMessage) (Result, error) {
	var a fetchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(tool, "arguments", "not a JSON object")
	}
	from, to, err := parseRange(tool, a.From, a.To)
	if err != nil {
		return Result{}, err
	}

	groupBy := map[string]core.GroupBy{
		ToolGroupedByCategory:     core.GroupByCategory,
		ToolGroupedByOrganization: core.GroupByOrganization,
		ToolGroupedByDay:          core.GroupByDay,
	}[tool]

	key := cacheKey(userID, tool, from, to, string(groupBy))
	if hit, ok := d.cache.Get(key); ok {
		return hit, nil
	}

	var groups []core.Group
	err = d.withRetry(ctx, func() error {
		var err error
		groups, err = d.repo.Aggregate(ctx, userID, groupBy, from, to)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	res, err := result(groupsPayload(groups), format.Groups(groups))
	if err != nil {
		return Result{}, err
	}
	d.cache.Set(key, res)
	return res, nil
}

type updateArgs struct {
	RecordID int64  `json:"record_id"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

func (d *Dispatcher) updateRecord(ctx context.Context, userID string, raw json.RawMessage) (Result, error) {
	var a updateArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(ToolUpdateRecord, "arguments", "not a JSON object")
	}
	if a.RecordID <= 0 {
		return Result{}, invalidArg(ToolUpdateRecord, "record_id", "must be a positive id")
	}
	if _, ok := updatableFields[a.Field]; !ok {
		return Result{}, invalidArg(ToolUpdateRecord, "field", "not an updatable field")
	}
	if a.Value == "" {
		return Result{}, invalidArg(ToolUpdateRecord, "value", "required")
	}

	rec, err := d.repo.UpdateField(ctx, userID, a.RecordID, a.Field, a.Value)
	if err != nil {
		return Result{}, err
	}
	d.InvalidateUser(userID)
	return result(map[string]any{"updated": toRecordJSON(rec)}, "")
}

type addItemArgs struct {
	ReceiptID   string `json:"receipt_id"`
	Product     string `json:"product"`
	Price       string `json:"price"`
	Quantity    int64  `json:"quantity"`
	Description string `json:"description"`
}

func (d *Dispatcher) addItem(ctx context.Context, userID string, raw json.RawMessage) (Result, error) {
	var a addItemArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(ToolAddItemToReceipt, "arguments", "not a JSON object")
	}
	if a.Product == "" {
		return Result{}, invalidArg(ToolAddItemToReceipt, "product", "required")
	}
	cents, err := core.ParseDecimalToCents(a.Price)
	if err != nil {
		return Result{}, invalidArg(ToolAddItemToReceipt, "price", "not a decimal amount")
	}

	receiptID, err := d.resolveReceipt(ctx, userID, a.ReceiptID, ToolAddItemToReceipt)
	if err != nil {
		return Result{}, err
	}

	rec := core.PurchaseRecord{
		Product:     a.Product,
		Description: a.Description,
		Category:    d.norm.Normalize(a.Product + " " + a.Description),
		Price:       core.Money{Cents: cents},
		Quantity:    a.Quantity,
	}
	saved, err := d.repo.InsertIntoReceipt(ctx, userID, receiptID, rec)
	if err != nil {
		return Result{}, err
	}
	d.InvalidateUser(userID)
	return result(map[string]any{"added": toRecordJSON(saved)}, "")
}

type receiptArgs struct {
	ReceiptID string `json:"receipt_id"`
}

func (d *Dispatcher) deleteReceipt(ctx context.Context, userID string, raw json.RawMessage) (Result, error) {
	var a receiptArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(ToolDeleteReceipt, "arguments", "not a JSON object")
	}
	receiptID, err := d.resolveReceipt(ctx, userID, a.ReceiptID, ToolDeleteReceipt)
	if err != nil {
		return Result{}, err
	}

	deleted, err := d.repo.DeleteReceiptRecords(ctx, userID, receiptID)
	if err != nil {
		return Result{}, err
	}
	d.InvalidateUser(userID)
	return result(map[string]any{"deleted": deleted, "receipt_id": receiptID}, "")
}

func (d *Dispatcher) exportPeriod(ctx context.Context, userID string, raw json.RawMessage) (Result, error) {
	var a fetchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(ToolExportPeriod, "arguments", "not a JSON object")
	}
	from, to, err := parseRange(ToolExportPeriod, a.From, a.To)
	if err != nil {
		return Result{}, err
	}
	if from.IsZero() || to.IsZero() {
		return Result{}, invalidArg(ToolExportPeriod, "from", "both from and to are required")
	}

	records, err := d.repo.FetchByFilter(ctx, userID, core.Filter{From: from, To: to, Ascending: true})
	if err != nil {
		return Result{}, err
	}
	title := fmt.Sprintf("Expenses %s to %s", from, to)
	url, err := d.exporter.ExportRecords(ctx, title, records)
	if err != nil {
		return Result{}, err
	}
	return result(map[string]any{"url": url, "records": len(records)}, "Exported to "+url)
}

type exportGroupedArgs struct {
	GroupBy string `json:"group_by"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (d *Dispatcher) exportGrouped(ctx context.Context, userID string, raw json.RawMessage, chart bool) (Result, error) {
	tool := ToolExportGrouped
	if chart {
		tool = ToolChartGrouped
	}
	var a exportGroupedArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return Result{}, invalidArg(tool, "arguments", "not a JSON object")
	}
	groupBy := core.GroupBy(a.GroupBy)
	if !groupBy.Valid() {
		return Result{}, invalidArg(tool, "group_by", "must be category, organization or day")
	}
	from, to, err := parseRange(tool, a.From, a.To)
	if err != nil {
		return Result{}, err
	}

	groups, err := d.repo.Aggregate(ctx, userID, groupBy, from, to)
	if err != nil {
		return Result{}, err
	}
	title := fmt.Sprintf("Spending by %s", groupBy)
	url, err := d.exporter.ExportGroups(ctx, title, groups, chart)
	if err != nil {
		return Result{}, err
	}
	return result(map[string]any{"url": url, "groups": len(groups)}, "Exported to "+url)
}

// resolveReceipt substitutes the user's most recent receipt when the model
// omitted the id.
func (d *Dispatcher) resolveReceipt(ctx context.Context, userID, receiptID, tool string) (string, error) {
	if receiptID != "" {
		return receiptID, nil
	}
	id, err := d.repo.LastReceiptID(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return "", invalidArg(tool, "receipt_id", "no receipts on file and none given")
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// withRetry retries a read exactly once when the failure is transient.
func (d *Dispatcher) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !core.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	slog.DebugContext(ctx, "Retrying transient read", "error", err)
	return fn()
}

// InvalidateUser drops every cached read result of one user. The mutation
// tools call it themselves; the ingestion path must call it after a receipt
// is persisted so fresh records show up inside the cache TTL.
func (d *Dispatcher) InvalidateUser(userID string) {
	d.cache.DeletePrefix(userID + "|")
}

func cacheKey(userID, tool string, from, to core.Date, extra string) string {
	f, t := "", ""
	if !from.IsZero() {
		f = from.String()
	}
	if !to.IsZero() {
		t = to.String()
	}
	return userID + "|" + tool + "|" + f + "|" + t + "|" + extra
}

func parseRange(tool, from, to string) (core.Date, core.Date, error) {
	var f, t core.Date
	var err error
	if from != "" {
		if f, err = core.ParseDate(from); err != nil {
			return core.Date{}, core.Date{}, invalidArg(tool, "from", "not a date")
		}
	}
	if to != "" {
		if t, err = core.ParseDate(to); err != nil {
			return core.Date{}, core.Date{}, invalidArg(tool, "to", "not a date")
		}
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f.Time) {
		return core.Date{}, core.Date{}, invalidArg(tool, "to", "end date precedes start date")
	}
	return f, t, nil
}

// updatableFields mirrors the storage whitelist so bad field names are
// rejected before the gateway is called.
var updatableFields = map[string]struct{}{
	"price": {}, "quantity": {}, "product": {}, "description": {},
	"category": {}, "organization": {}, "date": {},
}
