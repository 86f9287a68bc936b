package grid

import (
	"strconv"

	"github.com/harrisonrobin/duet/pkg/model"
)

// Lookup returns the ordered tasks for a date, or nil when there are none.
type Lookup interface {
	Tasks(date string) []model.Task
}

// Summary is what a cell can afford to show within its display budget.
type Summary struct {
	Visible       []model.Task `json:"visible"`
	OverflowCount int          `json:"overflowCount"`
	// Glyph is the emoji of the first task, empty for an empty day.
	Glyph   string `json:"glyph"`
	Pending int    `json:"pending"`
}

// OverflowLabel is the "+N" indicator, empty when everything fits.
func (s Summary) OverflowLabel() string {
	if s.OverflowCount <= 0 {
		return ""
	}
	return "+" + strconv.Itoa(s.OverflowCount)
}

// Project fills the cell's tasks from the lookup. A date with no entry gets
// an empty, non-nil slice.
func Project(cell Cell, idx Lookup) Cell {
	var tasks []model.Task
	if idx != nil {
		tasks = idx.Tasks(cell.Date)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	cell.Tasks = tasks
	return cell
}

// ProjectAll projects every cell without mutating the input slice.
func ProjectAll(cells []Cell, idx Lookup) []Cell {
	out := make([]Cell, len(cells))
	for i, c := range cells {
		out[i] = Project(c, idx)
	}
	return out
}

// Summarize keeps the first maxVisible tasks in their given order and counts
// the rest. A negative budget shows nothing.
func Summarize(tasks []model.Task, maxVisible int) Summary {
	if maxVisible < 0 {
		maxVisible = 0
	}
	n := min(len(tasks), maxVisible)
	s := Summary{
		Visible:       append([]model.Task{}, tasks[:n]...),
		OverflowCount: max(0, len(tasks)-maxVisible),
	}
	if len(tasks) > 0 {
		s.Glyph = tasks[0].Emoji
	}
	for _, t := range tasks {
		if !t.IsCompleted {
			s.Pending++
		}
	}
	return s
}
