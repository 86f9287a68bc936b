// Package grid builds the fixed 6-week month grid and projects tasks onto it.
package grid

import (
	"fmt"
	"time"

	"github.com/harrisonrobin/duet/pkg/model"
)

const (
	DaysPerWeek = 7
	Weeks       = 6
	// CellCount is fixed so the layout never changes between months.
	CellCount = DaysPerWeek * Weeks
)

const dateLayout = "2006-01-02"

// Cell is one position of the month grid.
type Cell struct {
	Day     int          `json:"day"`
	Date    string       `json:"date"`
	InMonth bool         `json:"inMonth"`
	Tasks   []model.Task `json:"tasks"`
}

// IsLeapYear applies the Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysIn returns the number of days in the zero-based month of year.
func DaysIn(year, month int) int {
	mustMonth(month)
	switch month {
	case 1:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case 3, 5, 8, 10:
		return 30
	default:
		return 31
	}
}

// FirstWeekday returns the weekday index (0=Sunday) of day 1 of the month.
func FirstWeekday(year, month int) int {
	mustMonth(month)
	return int(time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC).Weekday())
}

// BuildGrid returns the 42 cells for the zero-based month of year, starting on
// the Sunday on or before day 1. Tasks are left empty. A month outside 0..11
// is a caller bug and panics.
func BuildGrid(year, month int) []Cell {
	mustMonth(month)
	leadIn := FirstWeekday(year, month)

	prevYear, prevMonth := year, month-1
	if prevMonth < 0 {
		prevYear, prevMonth = year-1, 11
	}
	nextYear, nextMonth := year, month+1
	if nextMonth > 11 {
		nextYear, nextMonth = year+1, 0
	}

	cells := make([]Cell, 0, CellCount)
	prevDays := DaysIn(prevYear, prevMonth)
	for d := prevDays - leadIn + 1; d <= prevDays; d++ {
		cells = append(cells, newCell(prevYear, prevMonth, d, false))
	}
	for d := 1; d <= DaysIn(year, month); d++ {
		cells = append(cells, newCell(year, month, d, true))
	}
	for d := 1; len(cells) < CellCount; d++ {
		cells = append(cells, newCell(nextYear, nextMonth, d, false))
	}
	return cells
}

// Span returns the first and last dates covered by the month's grid, the
// window a data fetch for that month must cover.
func Span(year, month int) (first, last string) {
	cells := BuildGrid(year, month)
	return cells[0].Date, cells[len(cells)-1].Date
}

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func newCell(year, month, day int, inMonth bool) Cell {
	return Cell{
		Day:     day,
		Date:    fmt.Sprintf("%04d-%02d-%02d", year, month+1, day),
		InMonth: inMonth,
	}
}

func mustMonth(month int) {
	if month < 0 || month > 11 {
		panic(fmt.Sprintf("grid: month %d out of range 0..11", month))
	}
}
