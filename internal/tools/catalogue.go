package tools

import (
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Tool names, as exposed to the model.
const (
	ToolFetchByPeriod         = "fetch_by_period"
	ToolGetLastNDays          = "get_last_n_days"
	ToolGetCurrentWeek        = "get_current_week"
	ToolGetCurrentMonth       = "get_current_month"
	ToolGetYesterday          = "get_yesterday"
	ToolGetPreviousMonth      = "get_previous_month"
	ToolFetchByCategory       = "fetch_by_category"
	ToolFetchByOrganization   = "fetch_by_organization"
	ToolFetchByProduct        = "fetch_by_product"
	ToolFetchByDescription    = "fetch_by_description"
	ToolGetReceipt            = "get_receipt"
	ToolGetLastReceipt        = "get_last_receipt"
	ToolGetSummary            = "get_summary"
	ToolGetSummaryLastNDays   = "get_summary_last_n_days"
	ToolGroupedByCategory     = "get_grouped_by_category"
	ToolGroupedByOrganization = "get_grouped_by_organization"
	ToolGroupedByDay          = "get_grouped_by_day"
	ToolUpdateRecord          = "update_record"
	ToolAddItemToReceipt      = "add_item_to_receipt"
	ToolDeleteReceipt         = "delete_receipt"
	ToolExportPeriod          = "export_period"
	ToolExportGrouped         = "export_grouped"
	ToolChartGrouped          = "chart_grouped"
)

func strProp(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func intProp(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Integer, Description: desc}
}

func def(name, desc string, props map[string]jsonschema.Definition, required ...string) openai.Tool {
	if props == nil {
		props = map[string]jsonschema.Definition{}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: desc,
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: props,
				Required:   required,
			},
		},
	}
}

var fromToProps = map[string]jsonschema.Definition{
	"from": strProp("start date, YYYY-MM-DD, inclusive; omit for no lower bound"),
	"to":   strProp("end date, YYYY-MM-DD, inclusive; omit for no upper bound"),
}

// Catalogue returns the full tool set offered to the model. The order is
// stable so prompts stay cacheable.
func Catalogue() []openai.Tool {
	return []openai.Tool{
		def(ToolFetchByPeriod, "List purchases between two dates.",
			map[string]jsonschema.Definition{
				"from": strProp("start date, YYYY-MM-DD, inclusive"),
				"to":   strProp("end date, YYYY-MM-DD, inclusive"),
			}, "from", "to"),
		def(ToolGetLastNDays, "List purchases of the last n days, including today.",
			map[string]jsonschema.Definition{"n": intProp("number of days, at least 1")}, "n"),
		def(ToolGetCurrentWeek, "List purchases of the current week, Monday to today.", nil),
		def(ToolGetCurrentMonth, "List purchases of the current month.", nil),
		def(ToolGetYesterday, "List yesterday's purchases.", nil),
		def(ToolGetPreviousMonth, "List purchases of the previous calendar month.", nil),
		def(ToolFetchByCategory, "List purchases in a category, optionally date-bounded.",
			merge(map[string]jsonschema.Definition{
				"category": strProp("category name, exact match, case-insensitive"),
			}, fromToProps), "category"),
		def(ToolFetchByOrganization, "List purchases from a store or organization, optionally date-bounded.",
			merge(map[string]jsonschema.Definition{
				"organization": strProp("store name or part of it"),
			}, fromToProps), "organization"),
		def(ToolFetchByProduct, "Search purchases by product name, optionally date-bounded.",
			merge(map[string]jsonschema.Definition{
				"product": strProp("product name or part of it"),
			}, fromToProps), "product"),
		def(ToolFetchByDescription, "Search purchases by description text, optionally date-bounded.",
			merge(map[string]jsonschema.Definition{
				"description": strProp("description text or part of it"),
			}, fromToProps), "description"),
		def(ToolGetReceipt, "List all line items of one receipt.",
			map[string]jsonschema.Definition{"receipt_id": strProp("receipt identifier")}, "receipt_id"),
		def(ToolGetLastReceipt, "List the line items of the user's most recent receipt.", nil),
		def(ToolGetSummary, "Total amount and record count, optionally date-bounded.", fromToProps),
		def(ToolGetSummaryLastNDays, "Total amount and record count for the last n days.",
			map[string]jsonschema.Definition{"n": intProp("number of days, at least 1")}, "n"),
		def(ToolGroupedByCategory, "Spending grouped by category, largest first.", fromToProps),
		def(ToolGroupedByOrganization, "Spending grouped by store, largest first.", fromToProps),
		def(ToolGroupedByDay, "Spending grouped by day, largest first.", fromToProps),
		def(ToolUpdateRecord, "Change one field of a purchase record.",
			map[string]jsonschema.Definition{
				"record_id": intProp("id of the record to change"),
				"field": {
					Type:        jsonschema.String,
					Description: "field to change",
					Enum:        []string{"price", "quantity", "product", "description", "category", "organization", "date"},
				},
				"value": strProp("new value; price as decimal, date as YYYY-MM-DD"),
			}, "record_id", "field", "value"),
		def(ToolAddItemToReceipt, "Add a line item to an existing receipt.",
			map[string]jsonschema.Definition{
				"receipt_id":  strProp("receipt identifier; omit for the most recent receipt"),
				"product":     strProp("product name"),
				"price":       strProp("line total as a decimal, e.g. 4.50"),
				"quantity":    intProp("quantity, defaults to 1"),
				"description": strProp("optional clarification"),
			}, "product", "price"),
		def(ToolDeleteReceipt, "Delete all records of a receipt.",
			map[string]jsonschema.Definition{
				"receipt_id": strProp("receipt identifier; omit for the most recent receipt"),
			}),
		def(ToolExportPeriod, "Export purchases of a period to a spreadsheet and return its link.",
			map[string]jsonschema.Definition{
				"from": strProp("start date, YYYY-MM-DD, inclusive"),
				"to":   strProp("end date, YYYY-MM-DD, inclusive"),
			}, "from", "to"),
		def(ToolExportGrouped, "Export grouped spending to a spreadsheet and return its link.",
			merge(map[string]jsonschema.Definition{
				"group_by": {
					Type:        jsonschema.String,
					Description: "aggregation key",
					Enum:        []string{"category", "organization", "day"},
				},
			}, fromToProps), "group_by"),
		def(ToolChartGrouped, "Export grouped spending with an embedded bar chart and return its link.",
			merge(map[string]jsonschema.Definition{
				"group_by": {
					Type:        jsonschema.String,
					Description: "aggregation key",
					Enum:        []string{"category", "organization", "day"},
				},
			}, fromToProps), "group_by"),
	}
}

func merge(dst, src map[string]jsonschema.Definition) map[string]jsonschema.Definition {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
