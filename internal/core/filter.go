package core

// Filter is a composable predicate for record lookups. Zero values mean
// "not constrained". Results are ordered by purchase date descending unless
// Ascending is set.
type Filter struct {
	From         Date
	To           Date
	Category     string // exact, case-insensitive
	Organization string // substring, case-insensitive
	Product      string // substring, case-insensitive
	Description  string // substring, case-insensitive
	RecordID     int64  // 0 = unset
	ReceiptID    string
	Ascending    bool
	Limit        int // 0 = no limit
}

// GroupBy selects the aggregation key for Aggregate.
type GroupBy string

const (
	GroupByCategory     GroupBy = "category"
	GroupByOrganization GroupBy = "organization"
	GroupByDay          GroupBy = "day"
)

// Valid reports whether the group key is one the gateway supports.
func (g GroupBy) Valid() bool {
	switch g {
	case GroupByCategory, GroupByOrganization, GroupByDay:
		return true
	}
	return false
}

// Group is one aggregation bucket: sum and count of records sharing a key.
type Group struct {
	Key          string
	Count        int64
	ReceiptCount int64
	Total        Money
}

// Summary is the flat aggregate over a date range.
type Summary struct {
	Count        int64
	ReceiptCount int64
	Total        Money
}
