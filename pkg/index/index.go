// Package index groups canonical tasks by calendar date.
package index

import (
	"sort"

	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

// DateIndex maps a YYYY-MM-DD label to that day's tasks, ordered by start
// time with unscheduled tasks last. Dates without tasks have no key.
type DateIndex map[string][]model.Task

// Build groups tasks by exact DateISO. Ties keep their input order.
func Build(tasks []model.Task) DateIndex {
	idx := make(DateIndex)
	for _, t := range tasks {
		idx[t.DateISO] = append(idx[t.DateISO], t)
	}
	for _, bucket := range idx {
		sortBucket(bucket)
	}
	return idx
}

// BuildGrouped indexes records a backend already grouped by date. A record
// without a date of its own takes its group's key. It also reports how many
// records were dropped for lack of any usable date.
func BuildGrouped(groups map[string][]normalize.Record) (DateIndex, int) {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var tasks []model.Task
	dropped := 0
	for _, key := range keys {
		for _, r := range groups[key] {
			t, ok := normalize.Normalize(r)
			if !ok {
				t, ok = normalize.Normalize(withDate(r, key))
			}
			if !ok {
				dropped++
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return Build(tasks), dropped
}

// Tasks returns the ordered tasks for date, nil when there are none.
func (idx DateIndex) Tasks(date string) []model.Task {
	return idx[date]
}

// Dates returns the indexed dates in ascending order.
func (idx DateIndex) Dates() []string {
	dates := make([]string, 0, len(idx))
	for d := range idx {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Len is the total number of indexed tasks.
func (idx DateIndex) Len() int {
	n := 0
	for _, bucket := range idx {
		n += len(bucket)
	}
	return n
}

func sortBucket(bucket []model.Task) {
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].SortKey() < bucket[j].SortKey()
	})
}

func withDate(r normalize.Record, date string) normalize.Record {
	out := make(normalize.Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out["dateISO"] = date
	return out
}
