package core

import (
	"errors"
	"time"
)

// Date is a calendar date without a time component, normalized to UTC
// midnight.
type Date struct {
	time.Time
}

const isoDate = "2006-01-02"

// NewDate creates a Date from year, month and day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate accepts ISO (2025-10-01) and dotted (01.10.2025) forms, the two
// formats receipts and users actually produce.
func ParseDate(s string) (Date, error) {
	for _, layout := range []string{isoDate, "02.01.2006", "02-01-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC()}, nil
		}
	}
	return Date{}, errors.New("unrecognized date format: " + s)
}

// String renders the date in ISO form, the canonical storage representation.
func (d Date) String() string {
	return d.Format(isoDate)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// AddDays returns the date shifted by the given number of days.
func (d Date) AddDays(n int) Date {
	t := d.Time.AddDate(0, 0, n)
	return Date{Time: t}
}

// StartOfWeek returns the Monday of the date's week.
func (d Date) StartOfWeek() Date {
	wd := int(d.Weekday())
	if wd == 0 { // Sunday
		wd = 7
	}
	return d.AddDays(-(wd - 1))
}

// StartOfMonth returns the first day of the date's month.
func (d Date) StartOfMonth() Date {
	return NewDate(d.Year(), int(d.Month()), 1)
}
