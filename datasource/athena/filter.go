package athena

import (
	"fmt"
	"strings"
	"time"
)

// yearMonth is one calendar month of one year.
type yearMonth struct {
	year  int
	month int
}

// buildSearchFilter compiles the date window into the WHERE fragment shared
// by every activity query: a disjunction of per-month clauses over the
// partition columns, with errored calls excluded.
func buildSearchFilter(start, end time.Time) string {
	clauses := make([]string, 0, 12)
	for _, ym := range monthsBetween(start, end) {
		clauses = append(clauses, fmt.Sprintf("(year = '%04d' and month = '%02d')", ym.year, ym.month))
	}
	return "((" + strings.Join(clauses, " or ") + ") and errorcode IS NULL)"
}

// monthsBetween lists every calendar month touched by [start, end] in
// chronological order.
func monthsBetween(start, end time.Time) []yearMonth {
	year, month := start.Year(), int(start.Month())
	var months []yearMonth
	for {
		months = append(months, yearMonth{year, month})
		if year > end.Year() || (year == end.Year() && month >= int(end.Month())) {
			return months
		}
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
}

// monthsBack lists numMonths calendar months ending at now's month, most
// recent first. Months are stepped by calendar arithmetic rather than
// AddDate, which would skip short months at the end of long ones.
func monthsBack(now time.Time, numMonths int) []yearMonth {
	year, month := now.Year(), int(now.Month())
	months := make([]yearMonth, 0, numMonths)
	for i := 0; i < numMonths; i++ {
		months = append(months, yearMonth{year, month})
		month--
		if month == 0 {
			month = 12
			year--
		}
	}
	return months
}
