// Package cursor tracks the focused month of the calendar view.
package cursor

import (
	"fmt"
	"time"
)

// Cursor is a (year, zero-based month) pair. Month is always in 0..11.
type Cursor struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// New builds a cursor, carrying any month overflow into the year so the result
// is always in range. New(2024, 12) is January 2025; New(2024, -1) is December 2023.
func New(year, month int) Cursor {
	return FromOrdinal(year*12 + month)
}

// Current returns the cursor for the calendar month containing now.
func Current(now time.Time) Cursor {
	return Cursor{Year: now.Year(), Month: int(now.Month()) - 1}
}

// FromOrdinal is the inverse of Ordinal.
func FromOrdinal(n int) Cursor {
	year, month := n/12, n%12
	if month < 0 {
		month += 12
		year--
	}
	return Cursor{Year: year, Month: month}
}

// Ordinal collapses the cursor into a single month count, year*12+month.
func (c Cursor) Ordinal() int {
	return c.Year*12 + c.Month
}

func (c Cursor) Advance() Cursor {
	if c.Month == 11 {
		return Cursor{Year: c.Year + 1, Month: 0}
	}
	return Cursor{Year: c.Year, Month: c.Month + 1}
}

func (c Cursor) Retreat() Cursor {
	if c.Month == 0 {
		return Cursor{Year: c.Year - 1, Month: 11}
	}
	return Cursor{Year: c.Year, Month: c.Month - 1}
}

// TimeMonth returns the month as a time.Month (1..12).
func (c Cursor) TimeMonth() time.Month {
	return time.Month(c.Month + 1)
}

// Label renders the cursor the way the view header shows it, e.g. "January 2024".
func (c Cursor) Label() string {
	return fmt.Sprintf("%s %d", c.TimeMonth(), c.Year)
}

func (c Cursor) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, c.Month+1)
}
