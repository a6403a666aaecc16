package tools

import "chequebot/internal/core"

// Named-period helpers. All take the reference date explicitly so the
// boundaries are testable; the dispatcher passes core.Today().

func periodLastNDays(today core.Date, n int) (core.Date, core.Date) {
	return today.AddDays(-(n - 1)), today
}

func periodCurrentWeek(today core.Date) (core.Date, core.Date) {
	return today.StartOfWeek(), today
}

func periodCurrentMonth(today core.Date) (core.Date, core.Date) {
	return today.StartOfMonth(), today
}

func periodYesterday(today core.Date) (core.Date, core.Date) {
	y := today.AddDays(-1)
	return y, y
}

func periodPreviousMonth(today core.Date) (core.Date, core.Date) {
	firstOfThis := today.StartOfMonth()
	to := firstOfThis.AddDays(-1)
	return to.StartOfMonth(), to
}
