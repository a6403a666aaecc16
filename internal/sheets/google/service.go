// Package google implements the sheets ports against the Google Sheets
// API. Exports create a fresh spreadsheet per request; the mirror appends
// to one long-lived spreadsheet configured at startup.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"chequebot/internal/core"
)

type Service struct {
	srv                 *sheets.Service
	mirrorSpreadsheetID string
}

// NewService builds the adapter. Credentials come from the client options,
// or from application default credentials when none are given.
func NewService(ctx context.Context, mirrorSpreadsheetID string, opts ...option.ClientOption) (*Service, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Service{srv: srv, mirrorSpreadsheetID: mirrorSpreadsheetID}, nil
}

func (s *Service) ExportRecords(ctx context.Context, title string, records []core.PurchaseRecord) (string, error) {
	values := [][]any{{"ID", "Date", "Organization", "Product", "Description", "Category", "Quantity", "Price"}}
	for _, rec := range records {
		values = append(values, []any{
			rec.ID, rec.PurchaseDate.String(), rec.Organization, rec.Product,
			rec.Description, rec.Category, rec.Quantity, float64(rec.Price.Cents) / 100,
		})
	}

	spreadsheet, err := s.createSpreadsheet(ctx, title, values)
	if err != nil {
		return "", err
	}
	return spreadsheet.SpreadsheetUrl, nil
}

func (s *Service) ExportGroups(ctx context.Context, title string, groups []core.Group, chart bool) (string, error) {
	values := [][]any{{"Group", "Items", "Receipts", "Total"}}
	for _, g := range groups {
		values = append(values, []any{g.Key, g.Count, g.ReceiptCount, float64(g.Total.Cents) / 100})
	}

	spreadsheet, err := s.createSpreadsheet(ctx, title, values)
	if err != nil {
		return "", err
	}

	if chart && len(groups) > 0 {
		if err := s.addBarChart(ctx, spreadsheet, title, len(groups)); err != nil {
			return "", err
		}
	}
	return spreadsheet.SpreadsheetUrl, nil
}

// AppendRecords appends rows to the mirror spreadsheet.
func (s *Service) AppendRecords(ctx context.Context, records []core.PurchaseRecord) error {
	if s.mirrorSpreadsheetID == "" {
		return errors.New("no mirror spreadsheet configured")
	}
	var values [][]any
	for _, rec := range records {
		values = append(values, []any{
			rec.UserID, rec.ReceiptID, rec.PurchaseDate.String(), rec.Organization,
			rec.Product, rec.Description, rec.Category, rec.Quantity,
			float64(rec.Price.Cents) / 100,
		})
	}

	_, err := s.srv.Spreadsheets.Values.
		Append(s.mirrorSpreadsheetID, "A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return wrapSheetsError("append mirror rows", err)
	}
	return nil
}

func (s *Service) createSpreadsheet(ctx context.Context, title string, values [][]any) (*sheets.Spreadsheet, error) {
	spreadsheet, err := s.srv.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapSheetsError("create spreadsheet", err)
	}

	_, err = s.srv.Spreadsheets.Values.
		Update(spreadsheet.SpreadsheetId, "A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return nil, wrapSheetsError("write spreadsheet values", err)
	}
	return spreadsheet, nil
}

// addBarChart embeds a bar chart over the group table: column A as the
// domain, the total column as the single series.
func (s *Service) addBarChart(ctx context.Context, spreadsheet *sheets.Spreadsheet, title string, rows int) error {
	if len(spreadsheet.Sheets) == 0 {
		return errors.New("spreadsheet has no sheets")
	}
	sheetID := spreadsheet.Sheets[0].Properties.SheetId

	domain := &sheets.GridRange{
		SheetId: sheetID, StartRowIndex: 1, EndRowIndex: int64(rows + 1),
		StartColumnIndex: 0, EndColumnIndex: 1,
	}
	series := &sheets.GridRange{
		SheetId: sheetID, StartRowIndex: 1, EndRowIndex: int64(rows + 1),
		StartColumnIndex: 3, EndColumnIndex: 4,
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddChart: &sheets.AddChartRequest{
				Chart: &sheets.EmbeddedChart{
					Spec: &sheets.ChartSpec{
						Title: title,
						BasicChart: &sheets.BasicChartSpec{
							ChartType:      "BAR",
							LegendPosition: "NO_LEGEND",
							Domains: []*sheets.BasicChartDomain{{
								Domain: &sheets.ChartData{SourceRange: &sheets.ChartSourceRange{
									Sources: []*sheets.GridRange{domain},
								}},
							}},
							Series: []*sheets.BasicChartSeries{{
								Series: &sheets.ChartData{SourceRange: &sheets.ChartSourceRange{
									Sources: []*sheets.GridRange{series},
								}},
								TargetAxis: "BOTTOM_AXIS",
							}},
						},
					},
					Position: &sheets.EmbeddedObjectPosition{
						OverlayPosition: &sheets.OverlayPosition{
							AnchorCell: &sheets.GridCoordinate{SheetId: sheetID, RowIndex: 1, ColumnIndex: 5},
						},
					},
				},
			},
		}},
	}

	_, err := s.srv.Spreadsheets.BatchUpdate(spreadsheet.SpreadsheetId, req).Context(ctx).Do()
	if err != nil {
		return wrapSheetsError("add chart", err)
	}
	return nil
}

// wrapSheetsError marks rate limits and server-side failures transient so
// the sync worker requeues instead of dropping.
func wrapSheetsError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return core.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
